package hash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTextTrimsFields(t *testing.T) {
	if Text("a", "b") != Text(" a ", "b\n") {
		t.Fatalf("expected trimmed fields to hash identically")
	}
	if Text("a", "b") == Text("ab") {
		t.Fatalf("field separator must matter")
	}
}

func TestJSONStable(t *testing.T) {
	type rec struct {
		Key     string `json:"key"`
		Enabled bool   `json:"enabled"`
	}
	a := JSON([]rec{{"com.example", true}})
	b := JSON([]rec{{"com.example", true}})
	c := JSON([]rec{{"com.example", false}})
	if a == "" || a != b {
		t.Fatalf("expected stable fingerprint, got %q vs %q", a, b)
	}
	if a == c {
		t.Fatalf("expected different fingerprint for different content")
	}
}

func TestFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.json")
	if err := os.WriteFile(p, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, size, err := File(p)
	if err != nil {
		t.Fatalf("hash file: %v", err)
	}
	if size != 2 || len(sum) != 64 {
		t.Fatalf("unexpected result: sum=%s size=%d", sum, size)
	}
}
