package fsutil

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestWriteAtomicCreatesDirAndLeavesNoTemp(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := WriteAtomic(fs, "/data/q/a.json", []byte("one")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if err := WriteAtomic(fs, "/data/q/a.json", []byte("two")); err != nil {
		t.Fatalf("WriteAtomic overwrite: %v", err)
	}
	got, err := afero.ReadFile(fs, "/data/q/a.json")
	if err != nil || string(got) != "two" {
		t.Fatalf("ReadFile = %q err=%v", got, err)
	}
	entries, err := afero.ReadDir(fs, "/data/q")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file, got %d entries", len(entries))
	}
}

func TestMarshalJSONKeepsMarkupAndIndents(t *testing.T) {
	raw, err := MarshalJSON(map[string]string{"body": "<b>a & b</b>"})
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if !strings.Contains(string(raw), `"<b>a & b</b>"`) {
		t.Fatalf("markup escaped: %s", raw)
	}
	if !strings.Contains(string(raw), "\n    \"body\"") {
		t.Fatalf("expected four-space indent: %q", raw)
	}
}

func TestExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	ok, err := Exists(fs, "/missing")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	_ = afero.WriteFile(fs, "/present", []byte("x"), 0o644)
	if ok, _ := Exists(fs, "/present"); !ok {
		t.Fatalf("Exists(present) = false")
	}
}
