package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/marasi-sentinel/sentinel/internal/auditstore"
	"github.com/marasi-sentinel/sentinel/internal/broker"
	"github.com/marasi-sentinel/sentinel/internal/callbackstore"
	"github.com/marasi-sentinel/sentinel/internal/certauthority"
	"github.com/marasi-sentinel/sentinel/internal/config"
	"github.com/marasi-sentinel/sentinel/internal/controlapi"
	"github.com/marasi-sentinel/sentinel/internal/metrics"
	"github.com/marasi-sentinel/sentinel/internal/proxyengine"
	"github.com/marasi-sentinel/sentinel/internal/requestlog"
	"github.com/marasi-sentinel/sentinel/internal/statemirror"
	"github.com/marasi-sentinel/sentinel/internal/toggle"
)

// purgeInterval and pendingFlowAge bound how long an undecided flow sits in
// the broker before background reclamation drops it (spec §4.2).
const (
	purgeInterval  = 10 * time.Second
	pendingFlowAge = 2 * time.Minute
)

var (
	flagListenAddr   string
	flagDashboardURL string
	flagCallbackBase string
	flagStateDir     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy engine and control-plane API in one process",
	RunE:  runServe,
}

// Flag names must match the config package's viper keys exactly: Load binds
// each pflag.Flag to viper using the flag's own name as the key.
func init() {
	serveCmd.Flags().StringVar(&flagListenAddr, config.KeyListenAddr, "", "proxy listen address (overrides config/env)")
	serveCmd.Flags().StringVar(&flagDashboardURL, config.KeyDashboardURL, "", "control-plane dashboard base URL")
	serveCmd.Flags().StringVar(&flagCallbackBase, config.KeyCallbackBase, "", "callback beacon base URL")
	serveCmd.Flags().StringVar(&flagStateDir, config.KeyStateDir, "", "directory for the CA, audit DB, and state mirrors")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	authority, err := certauthority.LoadOrCreate(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("loading certificate authority: %w", err)
	}

	callbacks, err := callbackstore.New(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("opening callback store: %w", err)
	}

	audit, err := auditstore.Open(cfg.AuditDBPath, nil)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer audit.Close()

	mirror, err := statemirror.New(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("opening state mirror: %w", err)
	}

	reqLog, err := requestlog.Open(cfg.RequestLogPath)
	if err != nil {
		return fmt.Errorf("opening request log: %w", err)
	}
	defer reqLog.Close()

	b := broker.New()
	tg := toggle.New(false)
	m := metrics.New()

	// The mirror is best-effort: a failed write never affects the broker.
	b.SetMirrorHooks(
		func(f broker.Flow, d broker.Decision) { _ = mirror.RecordDecided(f, d) },
		func(f broker.Flow) { _ = mirror.RecordExpired(f) },
	)

	engine, err := proxyengine.New(proxyengine.Config{
		DashboardURL: cfg.DashboardURL,
		CallbackBase: cfg.CallbackBase,
	}, b, callbacks, tg, m, authority, nil)
	if err != nil {
		return fmt.Errorf("constructing proxy engine: %w", err)
	}
	onInsert, onUpdate := auditHooks(audit)
	engine.SetAuditHooks(onInsert, onUpdate)
	engine.SetRequestLog(reqLog)

	if err := loadWaypoints(audit, engine); err != nil {
		return fmt.Errorf("loading waypoints: %w", err)
	}

	api := controlapi.New(b, callbacks, tg, m, mirror, nil)
	api.SetWaypointStore(audit)
	api.SetWaypointsChangedHook(engine.SetWaypoints)

	listener, err := engine.Listen(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("opening proxy listener: %w", err)
	}

	servers := controlServers(cfg, api.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := engine.Serve(gctx, listener); err != nil && gctx.Err() == nil {
			return fmt.Errorf("proxy engine: %w", err)
		}
		return nil
	})

	for _, srv := range servers {
		srv := srv
		group.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("control api %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return runPurgeLoop(gctx, b, api)
	})

	<-ctx.Done()
	return shutdown(servers, engine, group)
}

// auditHooks converts the proxy engine's audit record shapes into
// auditstore.TrafficRecord rows. The audit table's primary key is a fresh
// uuid generated at insert time, independent of the broker's flow id, so the
// two hooks share a flow-id -> row-id map to find the right row to update.
func auditHooks(audit *auditstore.Store) (func(proxyengine.AuditRequestRecord), func(proxyengine.AuditResponseRecord)) {
	var mu sync.Mutex
	ids := make(map[string]uuid.UUID)

	onInsert := func(rec proxyengine.AuditRequestRecord) {
		id, err := uuid.NewV7()
		if err != nil {
			return
		}
		mu.Lock()
		ids[rec.FlowID] = id
		mu.Unlock()

		_ = audit.InsertRequest(&auditstore.TrafficRecord{
			ID:          id,
			FlowID:      rec.FlowID,
			Method:      rec.Method,
			URL:         rec.URL,
			Host:        rec.Host,
			Path:        rec.Path,
			RequestRaw:  rec.RequestRaw,
			Intercepted: rec.Intercepted,
			RequestedAt: time.Now(),
		})
	}

	onUpdate := func(rec proxyengine.AuditResponseRecord) {
		mu.Lock()
		id, ok := ids[rec.FlowID]
		if ok {
			delete(ids, rec.FlowID)
		}
		mu.Unlock()
		if !ok {
			return
		}
		_ = audit.UpdateResponse(id, rec.StatusCode, rec.ResponseRaw, rec.Injected, time.Now())
	}

	return onInsert, onUpdate
}

// loadWaypoints hands every persisted hostname override to the engine at
// startup, so overrides set in a prior run survive a restart (spec §4.1,
// §11's DB-backed home for the waypoint table).
func loadWaypoints(audit *auditstore.Store, engine *proxyengine.Engine) error {
	list, err := audit.Waypoints()
	if err != nil {
		return err
	}
	out := make(map[string]string, len(list))
	for _, wp := range list {
		out[wp.Hostname] = wp.Override
	}
	engine.SetWaypoints(out)
	return nil
}

// controlServers builds one *http.Server per distinct dashboard/callback
// address named in config, sharing a single gin router (spec §6 names no
// single canonical control-plane address; dashboard_url and callback_base
// may point at different host:ports).
func controlServers(cfg *config.Config, handler http.Handler) []*http.Server {
	addrs := map[string]struct{}{}
	for _, raw := range []string{cfg.DashboardURL, cfg.CallbackBase} {
		if host, ok := hostPortFromURL(raw); ok {
			addrs[host] = struct{}{}
		}
	}
	servers := make([]*http.Server, 0, len(addrs))
	for addr := range addrs {
		servers = append(servers, &http.Server{Addr: addr, Handler: handler})
	}
	return servers
}

func hostPortFromURL(raw string) (string, bool) {
	for _, prefix := range []string{"http://", "https://"} {
		if len(raw) >= len(prefix) && raw[:len(prefix)] == prefix {
			raw = raw[len(prefix):]
			break
		}
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] == '/' {
			raw = raw[:i]
			break
		}
	}
	if raw == "" {
		return "", false
	}
	return raw, true
}

// runPurgeLoop reclaims undecided flows older than pendingFlowAge. On
// shutdown it runs one final cycle before returning, so a submitter that's
// already mid-wait gets a last chance to be reclaimed cleanly rather than
// left pending forever (spec §9 open question (c)).
func runPurgeLoop(ctx context.Context, b *broker.Broker, api *controlapi.Server) error {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Purge(pendingFlowAge)
		case <-ctx.Done():
			api.SetDraining(true)
			b.Purge(pendingFlowAge)
			return nil
		}
	}
}

func shutdown(servers []*http.Server, engine *proxyengine.Engine, group *errgroup.Group) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("shutting down control api %s: %w", srv.Addr, err))
		}
	}
	engine.Close()

	if err := group.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
