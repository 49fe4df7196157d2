package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestUnder(t *testing.T) {
	match := Under("internal/infra", "/cmd/")
	cases := []struct {
		in   string
		want bool
	}{
		{"tutordesk/internal/infra", true},
		{"tutordesk/internal/infra/blob/s3", true},
		{"tutordesk/internal/infrastructure", false},
		{"tutordesk/cmd/tutordesk", true},
		{"tutordesk/internal/core", false},
		{"other/internal/infra", false},
	}
	for _, c := range cases {
		if got := match(c.in); got != c.want {
			t.Errorf("Under(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func writePackage(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Test files are never scanned.
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), []byte("package tmp\nimport _ \"tutordesk/internal/infra/identity\"\n"), 0o600); err != nil {
		t.Fatalf("write test: %v", err)
	}
	return dir
}

func TestDirectImportViolations(t *testing.T) {
	dir := writePackage(t, "package tmp\nimport (\n\t\"fmt\"\n\t_ \"tutordesk/internal/infra/docstore/memory\"\n)\nfunc X() { fmt.Println(1) }\n")
	viols, err := directImportViolations(dir, InfraImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "tutordesk/internal/infra/docstore/memory (in x.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	clean := writePackage(t, "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	AssertNoDirectImports(t, clean, InfraImportForbidden, "clean package")
}

func TestAssertNoTransitiveDependencyUsesGoList(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })

	goListDeps = func(string) ([]byte, error) { return []byte("fmt\ntutordesk/internal/state\n"), nil }
	AssertNoTransitiveDependency(t, "./...", AdapterImportForbidden, "state stays below adapters")

	goListDeps = func(string) ([]byte, error) { return nil, errors.New("boom") }
	rec := &recorder{TB: t}
	func() {
		defer func() { _ = recover() }()
		AssertNoTransitiveDependency(rec, "./...", AdapterImportForbidden, "x")
	}()
	if !rec.failed {
		t.Fatalf("expected go list failure to fail the test")
	}
}

// recorder captures Fatalf without stopping the enclosing test.
type recorder struct {
	testing.TB
	failed bool
}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(string, ...any) {
	r.failed = true
	panic("fatal")
}
