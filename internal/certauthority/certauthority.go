// Package certauthority generates or loads the proxy's MITM certificate
// authority, grounded directly on the teacher's config.go/options.go WithTLS
// flow: google/martian/mitm.NewAuthority on first run, PEM round-trip to
// disk thereafter, SPKI hash for operators installing the CA in a browser.
package certauthority

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/martian/mitm"
)

const (
	certFileName = "proxy_cert.pem"
	keyFileName  = "proxy_key.pem"
	validFor     = 365 * 3 * 24 * time.Hour
)

// Authority bundles the CA certificate, its private key, and the derived
// mitm.Config used to mint per-host leaf certificates during interception.
type Authority struct {
	Cert     *x509.Certificate
	Key      interface{}
	SPKIHash string
	MITM     *mitm.Config
	TLS      *tls.Config
}

// LoadOrCreate loads an existing CA from stateDir, or generates and persists
// a new one if none exists yet.
func LoadOrCreate(stateDir string) (*Authority, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", stateDir, err)
	}

	certPath := filepath.Join(stateDir, certFileName)

	var cert *x509.Certificate
	var key interface{}
	var err error

	if _, statErr := os.Stat(certPath); os.IsNotExist(statErr) {
		cert, key, err = mitm.NewAuthority("Sentinel", "Sentinel Proxy Authority", validFor)
		if err != nil {
			return nil, fmt.Errorf("generating new mitm authority: %w", err)
		}
		if err := save(stateDir, cert, key); err != nil {
			return nil, fmt.Errorf("saving new cert and key: %w", err)
		}
	} else {
		cert, key, err = load(stateDir)
		if err != nil {
			return nil, fmt.Errorf("loading existing cert and key: %w", err)
		}
	}

	mitmConfig, err := mitm.NewConfig(cert, key)
	if err != nil {
		return nil, fmt.Errorf("creating mitm config: %w", err)
	}

	systemPool, err := x509.SystemCertPool()
	if err != nil {
		systemPool = x509.NewCertPool()
	}
	systemPool.AddCert(cert)

	return &Authority{
		Cert:     cert,
		Key:      key,
		SPKIHash: spkiHash(cert),
		MITM:     mitmConfig,
		TLS:      &tls.Config{RootCAs: systemPool},
	}, nil
}

// spkiHash computes the base64-encoded SHA-256 hash of the certificate's
// Subject Public Key Info, so an operator can verify the CA they installed
// is the one this process is using.
func spkiHash(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func save(stateDir string, cert *x509.Certificate, key interface{}) error {
	certOut, err := os.Create(filepath.Join(stateDir, certFileName))
	if err != nil {
		return fmt.Errorf("opening cert file for writing: %w", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
		return fmt.Errorf("writing cert PEM: %w", err)
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshalling private key: %w", err)
	}
	keyOut, err := os.OpenFile(filepath.Join(stateDir, keyFileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening key file for writing: %w", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes}); err != nil {
		return fmt.Errorf("writing key PEM: %w", err)
	}
	return nil
}

func load(stateDir string) (*x509.Certificate, interface{}, error) {
	certPEM, err := os.ReadFile(filepath.Join(stateDir, certFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("reading cert file: %w", err)
	}
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("decoding cert PEM block")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(filepath.Join(stateDir, keyFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("reading key file: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil || keyBlock.Type != "PRIVATE KEY" {
		return nil, nil, fmt.Errorf("decoding key PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing private key: %w", err)
	}

	return cert, key, nil
}
