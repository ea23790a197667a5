package requestlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLogAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Log("GET", "http://example.test/a", true, false); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Log("POST", "http://example.test/b", false, true); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "GET http://example.test/a -> intercept=true inject=false\n" +
		"POST http://example.test/b -> intercept=false inject=true\n"
	if string(data) != want {
		t.Fatalf("expected %q, got %q", want, string(data))
	}
}

func TestOpenAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.log")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first.Log("GET", "http://example.test/", false, false)
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	second.Log("GET", "http://example.test/again", false, false)
	second.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "GET http://example.test/ -> intercept=false inject=false\n" +
		"GET http://example.test/again -> intercept=false inject=false\n"
	if string(data) != want {
		t.Fatalf("expected both lines to survive reopen, got %q", string(data))
	}
}
