package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func mustSelfSignedStub(t *testing.T) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sentinel-test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating self-signed certificate: %v", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsing self-signed certificate: %v", err)
	}
	return cert
}

func TestRoundTripperServesCertificate(t *testing.T) {
	// RoundTrip only reads cert.Raw; a throwaway self-signed certificate
	// supplies real DER bytes to compare the response body against.
	cert := mustSelfSignedStub(t)

	rt := New(cert)
	req, err := http.NewRequest(http.MethodGet, CertServeURLs[0], nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-x509-ca-cert" {
		t.Fatalf("unexpected content-type: %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != string(cert.Raw) {
		t.Fatalf("expected body to be the certificate's raw DER bytes")
	}
}

func TestOverrideHostRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	ctx := ContextWithOverrideHost(context.Background(), upstream.Listener.Addr().String())
	if got, ok := overrideHostFromContext(ctx); !ok || got != upstream.Listener.Addr().String() {
		t.Fatalf("expected override host round-trip through context, got %q ok=%v", got, ok)
	}
}
