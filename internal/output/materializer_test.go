package output

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestMaterializer(t *testing.T) *Materializer {
	t.Helper()
	m := NewMaterializer(t.TempDir(), "http://localhost:8080/output/")
	m.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return m
}

func writeArtifact(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestMaterializeLayout(t *testing.T) {
	m := newTestMaterializer(t)
	artifact := writeArtifact(t, "result.zip", "payload")

	rel, err := m.Materialize("01JTICKET", artifact)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if want := "2603/01JTICKET/result.zip"; rel != want {
		t.Errorf("rel = %q, want %q", rel, want)
	}

	got, err := os.ReadFile(filepath.Join(m.Root(), "2603", "01JTICKET", "result.zip"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("content = %q, want %q", got, "payload")
	}
}

func TestMaterializeCopiesNotMoves(t *testing.T) {
	m := newTestMaterializer(t)
	artifact := writeArtifact(t, "out.csv", "a,b")

	if _, err := m.Materialize("T", artifact); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("source artifact missing after Materialize: %v", err)
	}
}

func TestMaterializeMissingArtifact(t *testing.T) {
	m := newTestMaterializer(t)

	if _, err := m.Materialize("T", filepath.Join(t.TempDir(), "nope.csv")); err == nil {
		t.Error("Materialize of missing artifact returned nil error")
	}
}

func TestLink(t *testing.T) {
	m := newTestMaterializer(t)

	got := m.Link("2603/T/my file.csv")
	if want := "http://localhost:8080/output/2603/T/my%20file.csv"; got != want {
		t.Errorf("Link = %q, want %q", got, want)
	}
}

func TestResolve(t *testing.T) {
	m := newTestMaterializer(t)

	got, err := m.Resolve("2603/T/out.csv")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(m.Root(), "2603", "T", "out.csv"); got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}

	escaped, err := m.Resolve("../../etc/passwd")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(m.Root(), "etc", "passwd"); escaped != want {
		t.Errorf("Resolve escaping path = %q, want it clamped to %q", escaped, want)
	}

	for _, bad := range []string{"", "/", "..\\x"} {
		if _, err := m.Resolve(bad); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Resolve(%q) error = %v, want ErrInvalidPath", bad, err)
		}
	}
}
