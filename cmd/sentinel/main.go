// Command sentinel is the single-binary entry point for the intercepting
// proxy: it runs the Proxy Engine, the control-plane HTTP API, and a
// background purge loop in one process, grounded on the cobra CLI shape of
// CirtusX-ctrl-ai-v1's cmd/ctrlai (the teacher is a library with no CLI of
// its own).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:     "sentinel",
	Short:   "sentinel — intercepting forward proxy with an operator control plane",
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir(), "config and state directory")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sentinel"
	}
	return home + "/.sentinel"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
