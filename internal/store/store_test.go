package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raillock/raillock/internal/policy"
)

func TestStore_NormalizeName(t *testing.T) {
	s := New(Options{DefaultName: "default.yaml"})

	cases := map[string]string{
		"":              "default.yaml",
		"  ":            "default.yaml",
		"team":          "team.yaml",
		"team.yml":      "team.yml",
		"TEAM.YAML":     "TEAM.YAML",
		"policy.json":   "policy.json.yaml",
		" spaced.yaml ": "spaced.yaml",
	}
	for input, want := range cases {
		if got := s.NormalizeName(input); got != want {
			t.Fatalf("NormalizeName(%q): expected %q, got %q", input, want, got)
		}
	}
}

func TestStore_ConfinedRejectsPaths(t *testing.T) {
	s := New(Options{Dir: t.TempDir(), Confined: true})

	for _, name := range []string{"../escape.yaml", "sub/dir.yaml", `win\path.yaml`, ".hidden.yaml"} {
		if _, err := s.Resolve(name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Resolve(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestStore_UnconfinedAllowsPaths(t *testing.T) {
	dir := t.TempDir()
	s := New(Options{Dir: dir})

	got, err := s.Resolve("sub/team")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got != filepath.Join(dir, "sub", "team.yaml") {
		t.Fatalf("unexpected path %s", got)
	}

	abs := filepath.Join(t.TempDir(), "abs.yaml")
	if got, _ := s.Resolve(abs); got != abs {
		t.Fatalf("expected absolute path kept, got %s", got)
	}
}

func TestStore_SaveDocumentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(Options{Dir: dir, Confined: true})

	doc := policy.NewDocument(policy.Server{Name: "fs", Type: "stdio"})
	doc.AllowedTools["read_file"] = policy.Entry{Description: "Read", Server: "fs", Checksum: "abc"}

	path, err := s.SaveDocument("team", doc)
	if err != nil {
		t.Fatalf("SaveDocument error: %v", err)
	}
	if path != filepath.Join(dir, "team.yaml") {
		t.Fatalf("unexpected path %s", path)
	}

	data, err := s.Read("team.yaml")
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	src, err := policy.Parse(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if src.Document().AllowedTools["read_file"].Checksum != "abc" {
		t.Fatalf("unexpected saved document:\n%s", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files cleaned up, got %d entries", len(entries))
	}
}

func TestStore_WriteOverwrites(t *testing.T) {
	s := New(Options{Dir: t.TempDir()})
	if _, err := s.Write("p.yaml", []byte("first")); err != nil {
		t.Fatalf("first Write error: %v", err)
	}
	path, err := s.Write("p.yaml", []byte("second"))
	if err != nil {
		t.Fatalf("second Write error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "second" {
		t.Fatalf("expected overwritten content, got %q (%v)", data, err)
	}
}

func TestStore_SaveManualKeepsComments(t *testing.T) {
	s := New(Options{Dir: t.TempDir(), Confined: true})
	content := []byte("# reviewed by security\nconfig_version: 1\nserver:\n  name: fs\n")

	path, report, err := s.SaveManual("manual", content, policy.ValidateOptions{})
	if err != nil {
		t.Fatalf("SaveManual error: %v", err)
	}
	if report.Outcome() != policy.OutcomeWarned {
		t.Fatalf("expected warned outcome for missing server.type, got %s", report.Outcome())
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != string(content) {
		t.Fatalf("expected verbatim content, got %q (%v)", data, err)
	}
}

func TestStore_SaveManualRejectsMalformedTrailingDocument(t *testing.T) {
	dir := t.TempDir()
	s := New(Options{Dir: dir, Confined: true})

	content := []byte("config_version: 1\nserver:\n  name: s\n  type: sse\n---\nallowed_tools: [unclosed\n")
	_, _, err := s.SaveManual("p", content, policy.ValidateOptions{})
	var parseErr *policy.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *policy.ParseError, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "p.yaml")); !os.IsNotExist(statErr) {
		t.Fatalf("malformed policy must not be written, stat err=%v", statErr)
	}
}

func TestStore_SaveManualRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	s := New(Options{Dir: dir, Confined: true})

	_, report, err := s.SaveManual("bad", []byte("server: {name: fs}\n"), policy.ValidateOptions{})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if len(report.Errors) == 0 || !strings.Contains(err.Error(), "config_version") {
		t.Fatalf("expected config_version error in report, got %v", report.Errors)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "bad.yaml")); !os.IsNotExist(statErr) {
		t.Fatalf("expected no file written, stat err %v", statErr)
	}

	_, _, err = s.SaveManual("bad", []byte("key: [unclosed"), policy.ValidateOptions{})
	var parseErr *policy.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
