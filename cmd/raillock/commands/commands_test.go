package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/raillock/raillock/internal/config"
	"github.com/raillock/raillock/internal/inventory"
	"github.com/raillock/raillock/internal/mcp"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	os.Stdout = w
	fn()
	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	_ = r.Close()

	return buf.String()
}

// prepareWorkspace isolates HOME and the working directory and returns the
// working directory.
func prepareWorkspace(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	work := t.TempDir()
	t.Chdir(work)
	return work
}

type fakeInventoryLoader struct {
	snap     inventory.Snapshot
	loadErr  error
	probeErr error
	loads    int
	probes   int
}

func (f *fakeInventoryLoader) Load(ctx context.Context, target mcp.Target) (inventory.Snapshot, error) {
	f.loads++
	if f.loadErr != nil {
		return inventory.Snapshot{}, inventory.Unavailable(target.Raw, f.loadErr)
	}
	return f.snap, nil
}

func (f *fakeInventoryLoader) Probe(ctx context.Context, target mcp.Target) error {
	f.probes++
	if f.probeErr != nil {
		return inventory.Unavailable(target.Raw, f.probeErr)
	}
	return nil
}

func stubLoader(t *testing.T, loader *fakeInventoryLoader) {
	t.Helper()
	old := newInventoryLoader
	newInventoryLoader = func(*config.Config) inventoryLoader { return loader }
	t.Cleanup(func() { newInventoryLoader = old })
}

const testServer = "http://localhost:9000/tools"

func testSnapshot() inventory.Snapshot {
	return inventory.Snapshot{
		ServerName: testServer,
		ServerType: inventory.ServerTypeHTTP,
		Tools: []inventory.Tool{
			{Name: "read_file", Description: "Read a file", Checksum: inventory.Checksum(testServer, "read_file", "Read a file")},
			{Name: "exec", Description: "Run: any command", Checksum: inventory.Checksum(testServer, "exec", "Run: any command")},
		},
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
