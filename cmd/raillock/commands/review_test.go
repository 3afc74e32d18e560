package commands

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raillock/raillock/internal/config"
	"github.com/raillock/raillock/internal/inventory"
	"github.com/raillock/raillock/internal/policy"
	"github.com/raillock/raillock/internal/review"
	"github.com/raillock/raillock/internal/tui"
)

func stubReviewTUI(t *testing.T, fn func(inventory.Snapshot) (*review.State, error)) {
	t.Helper()
	old := runReviewTUI
	runReviewTUI = fn
	t.Cleanup(func() { runReviewTUI = old })
}

func readPolicy(t *testing.T, path string) *policy.Document {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read policy: %v", err)
	}
	src, err := policy.Parse(data)
	if err != nil {
		t.Fatalf("parse policy: %v", err)
	}
	return src.Document()
}

func TestReviewYesAllowsEverything(t *testing.T) {
	work := prepareWorkspace(t)
	loader := &fakeInventoryLoader{snap: testSnapshot()}
	stubLoader(t, loader)
	stubReviewTUI(t, func(inventory.Snapshot) (*review.State, error) {
		t.Fatal("--yes must not start the interactive review")
		return nil, nil
	})

	cmd := NewReviewCmd()
	_ = cmd.Flags().Set("server", testServer)
	_ = cmd.Flags().Set("yes", "true")
	_ = cmd.Flags().Set("output", "team")

	output := captureOutput(t, func() {
		if err := runReview(cmd, nil); err != nil {
			t.Fatalf("runReview: %v", err)
		}
	})

	if !strings.Contains(output, "Policy saved to team.yaml") {
		t.Fatalf("unexpected output: %s", output)
	}
	if !strings.Contains(output, "allowed: 2  denied: 0  malicious: 0  ignored: 0") {
		t.Fatalf("expected summary line, got: %s", output)
	}
	if loader.probes != 1 || loader.loads != 1 {
		t.Fatalf("expected one probe and one load, got %d/%d", loader.probes, loader.loads)
	}

	doc := readPolicy(t, filepath.Join(work, "team.yaml"))
	if len(doc.AllowedTools) != 2 || doc.Server.Name != testServer || doc.Server.Type != "http" {
		t.Fatalf("unexpected policy: %+v", doc)
	}
	if got := doc.AllowedTools["exec"].Checksum; got != inventory.Checksum(testServer, "exec", "Run: any command") {
		t.Fatalf("unexpected checksum %q", got)
	}

	audit, err := os.ReadFile(filepath.Join(config.ConfigDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(audit), `"type":"policy_saved"`) {
		t.Fatalf("expected audit event, got: %s", audit)
	}
}

func TestReviewUsesInteractiveDecisions(t *testing.T) {
	work := prepareWorkspace(t)
	stubLoader(t, &fakeInventoryLoader{snap: testSnapshot()})
	stubReviewTUI(t, func(snap inventory.Snapshot) (*review.State, error) {
		return review.FromChoices(map[string]string{
			"read_file": "allow",
			"exec":      "malicious",
		})
	})

	cmd := NewReviewCmd()
	_ = cmd.Flags().Set("server", testServer)
	captureOutput(t, func() {
		if err := runReview(cmd, nil); err != nil {
			t.Fatalf("runReview: %v", err)
		}
	})

	doc := readPolicy(t, filepath.Join(work, config.DefaultPolicyFile))
	if _, ok := doc.MaliciousTools["exec"]; !ok {
		t.Fatalf("expected exec in malicious_tools: %+v", doc)
	}
	if _, ok := doc.AllowedTools["read_file"]; !ok {
		t.Fatalf("expected read_file in allowed_tools: %+v", doc)
	}
}

func TestReviewCancelledWritesNothing(t *testing.T) {
	work := prepareWorkspace(t)
	stubLoader(t, &fakeInventoryLoader{snap: testSnapshot()})
	stubReviewTUI(t, func(inventory.Snapshot) (*review.State, error) {
		return nil, tui.ErrCancelled
	})

	cmd := NewReviewCmd()
	_ = cmd.Flags().Set("server", testServer)
	output := captureOutput(t, func() {
		if err := runReview(cmd, nil); err != nil {
			t.Fatalf("runReview: %v", err)
		}
	})

	if !strings.Contains(output, "Review cancelled") {
		t.Fatalf("unexpected output: %s", output)
	}
	if _, err := os.Stat(filepath.Join(work, config.DefaultPolicyFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no policy file, stat err=%v", err)
	}
}

func TestReviewProbeFailureStopsBeforeLoad(t *testing.T) {
	prepareWorkspace(t)
	loader := &fakeInventoryLoader{snap: testSnapshot(), probeErr: errors.New("server responded with error code: 503")}
	stubLoader(t, loader)

	cmd := NewReviewCmd()
	_ = cmd.Flags().Set("server", testServer)
	_ = cmd.Flags().Set("yes", "true")
	err := runReview(cmd, nil)
	if !errors.Is(err, inventory.ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if loader.loads != 0 {
		t.Fatalf("expected no load after failed probe, got %d", loader.loads)
	}
}

func TestReviewRequiresServer(t *testing.T) {
	prepareWorkspace(t)
	stubLoader(t, &fakeInventoryLoader{})

	err := runReview(NewReviewCmd(), nil)
	if err == nil || !strings.Contains(err.Error(), "no MCP server given") {
		t.Fatalf("expected missing server error, got %v", err)
	}
}

func TestReviewDiffAgainstExistingPolicy(t *testing.T) {
	work := prepareWorkspace(t)
	writeFile(t, work, config.DefaultPolicyFile, "config_version: 1\nserver:\n  name: old\n  type: http\nallowed_tools: {}\nmalicious_tools: {}\ndenied_tools: {}\n")
	stubLoader(t, &fakeInventoryLoader{snap: testSnapshot()})

	cmd := NewReviewCmd()
	_ = cmd.Flags().Set("server", testServer)
	_ = cmd.Flags().Set("yes", "true")
	_ = cmd.Flags().Set("diff", "true")
	output := captureOutput(t, func() {
		if err := runReview(cmd, nil); err != nil {
			t.Fatalf("runReview: %v", err)
		}
	})

	for _, want := range []string{"-  name: old", "+  name: \"" + testServer + "\"", "+  read_file:", "@@"} {
		if !strings.Contains(output, want) {
			t.Fatalf("diff missing %q:\n%s", want, output)
		}
	}
}

func TestReviewEmptyInventory(t *testing.T) {
	work := prepareWorkspace(t)
	stubLoader(t, &fakeInventoryLoader{snap: inventory.Snapshot{ServerName: testServer}})

	cmd := NewReviewCmd()
	_ = cmd.Flags().Set("server", testServer)
	output := captureOutput(t, func() {
		if err := runReview(cmd, nil); err != nil {
			t.Fatalf("runReview: %v", err)
		}
	})
	if !strings.Contains(output, "advertises no tools") {
		t.Fatalf("unexpected output: %s", output)
	}
	if _, err := os.Stat(filepath.Join(work, config.DefaultPolicyFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no policy file, stat err=%v", err)
	}
}
