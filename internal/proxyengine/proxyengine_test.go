package proxyengine

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marasi-sentinel/sentinel/internal/broker"
)

func TestWantsTriggerHeaderAndQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.test/path?inject=yes", nil)
	if !wantsTrigger(req, "X-Inject-Payload", "inject") {
		t.Fatalf("expected query param to trigger")
	}

	req2 := httptest.NewRequest(http.MethodGet, "http://example.test/path", nil)
	req2.Header.Set("X-Inject-Payload", "TRUE")
	if !wantsTrigger(req2, "X-Inject-Payload", "inject") {
		t.Fatalf("expected case-insensitive header to trigger")
	}

	req3 := httptest.NewRequest(http.MethodGet, "http://example.test/path", nil)
	if wantsTrigger(req3, "X-Inject-Payload", "inject") {
		t.Fatalf("expected no trigger without header or query")
	}
}

func TestApplyModificationOverridesOnlyPresentFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/a", strings.NewReader("hello"))
	req.Header.Set("X-Foo", "1")

	body := "world"
	mod := &broker.Modification{
		Method:  "PUT",
		URL:     "http://example.com/b",
		Headers: map[string]string{"X-Bar": "2"},
		Body:    &body,
	}

	if err := applyModification(req, mod); err != nil {
		t.Fatalf("applyModification: %v", err)
	}
	if req.Method != "PUT" || req.URL.String() != "http://example.com/b" {
		t.Fatalf("unexpected method/url: %s %s", req.Method, req.URL)
	}
	if req.Header.Get("X-Foo") != "" || req.Header.Get("X-Bar") != "2" {
		t.Fatalf("expected headers fully replaced, got %v", req.Header)
	}
}

func TestApplyModificationEmptyStringBodyEmptiesBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/a", strings.NewReader("hello"))
	empty := ""
	mod := &broker.Modification{Body: &empty}
	if err := applyModification(req, mod); err != nil {
		t.Fatalf("applyModification: %v", err)
	}
	if req.ContentLength != 0 {
		t.Fatalf("expected empty body, got content length %d", req.ContentLength)
	}
}

func TestApplyModificationNoFieldsLeavesRequestUnchanged(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	if err := applyModification(req, &broker.Modification{}); err != nil {
		t.Fatalf("applyModification: %v", err)
	}
	if req.Method != http.MethodGet || req.URL.String() != "http://example.com/a" {
		t.Fatalf("expected request unchanged, got %s %s", req.Method, req.URL)
	}
}

func TestApplyModificationInvalidURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/a", nil)
	mod := &broker.Modification{URL: "http://[::1"}
	if err := applyModification(req, mod); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}

func TestInsertBeforeLastBodyClose(t *testing.T) {
	html := "<html><body>hi</body></html>"
	out := insertBeforeLastBodyClose(html, "<BEACON>")
	if out != "<html><body>hi<BEACON></body></html>" {
		t.Fatalf("unexpected result: %s", out)
	}
}

func TestInsertBeforeLastBodyCloseMultipleOccurrences(t *testing.T) {
	html := "<body>a</body><body>b</BODY>"
	out := insertBeforeLastBodyClose(html, "<BEACON>")
	want := "<body>a</body><body>b<BEACON></BODY>"
	if out != want {
		t.Fatalf("expected insertion before last occurrence, got %s", out)
	}
}

func TestInsertBeforeLastBodyCloseNoTagAppends(t *testing.T) {
	html := "<html><p>no body tag</p></html>"
	out := insertBeforeLastBodyClose(html, "<BEACON>")
	if out != html+"<BEACON>" {
		t.Fatalf("expected append at EOF, got %s", out)
	}
}

func TestIsHTMLContentType(t *testing.T) {
	cases := map[string]bool{
		"text/html; charset=utf-8":       true,
		"application/xhtml+xml":          true,
		"application/json":               false,
		"":                               false,
		"text/plain; charset=text/html;": true, // conservative substring match mirrors the design note's string-search approach
	}
	for ct, want := range cases {
		if got := isHTMLContentType(ct); got != want {
			t.Fatalf("isHTMLContentType(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestLoopbackAlias(t *testing.T) {
	if got := loopbackAlias("localhost:8090"); got != "127.0.0.1:8090" {
		t.Fatalf("expected 127.0.0.1:8090, got %s", got)
	}
	if got := loopbackAlias("127.0.0.1:8090"); got != "localhost:8090" {
		t.Fatalf("expected localhost:8090, got %s", got)
	}
}

func TestGetHostPortDefaultsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://example.test/path", nil)
	req.URL.Host = "example.test"
	if got := getHostPort(req); got != "example.test:443" {
		t.Fatalf("expected default https port, got %s", got)
	}
}
