package certauthority

import "testing"

func TestLoadOrCreateGeneratesThenReloads(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate (generate): %v", err)
	}
	if first.SPKIHash == "" {
		t.Fatalf("expected a non-empty SPKI hash")
	}

	second, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate (reload): %v", err)
	}
	if second.SPKIHash != first.SPKIHash {
		t.Fatalf("reloading the CA must yield the same SPKI hash: %q vs %q", first.SPKIHash, second.SPKIHash)
	}
	if !second.Cert.Equal(first.Cert) {
		t.Fatalf("reloaded certificate should be byte-identical to the generated one")
	}
}
