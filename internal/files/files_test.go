package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRemoveIgnoresMissing(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rel := s.NewPath("scan.PDF")
	if !strings.HasSuffix(rel, ".pdf") {
		t.Fatalf("rel = %q", rel)
	}
	abs := s.Abs(rel)
	if err := os.WriteFile(abs, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(rel, "", "missing.png"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(abs); !os.IsNotExist(err) {
		t.Fatal("file still present")
	}
}

func TestAbsStaysInsideDir(t *testing.T) {
	s, _ := New(t.TempDir())
	if p := s.Abs("../../etc/passwd"); p != filepath.Join(s.Dir(), "etc", "passwd") {
		t.Fatalf("escaped: %s", p)
	}
}
