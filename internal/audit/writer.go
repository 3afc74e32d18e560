package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	auditFileMode = 0644
	auditDirMode  = 0755
)

// Event types.
const (
	TypePolicySaved    = "policy_saved"
	TypePolicyRejected = "policy_rejected"
)

// Event is one audit record written as a single JSON line.
type Event struct {
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Server    string    `json:"server,omitempty"`
	Path      string    `json:"path,omitempty"`
	// Source is "review" for compiled decisions and "manual" for
	// hand-authored documents.
	Source   string   `json:"source,omitempty"`
	Result   string   `json:"result,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Recorder accepts audit events.
type Recorder interface {
	Append(event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Append(Event) error { return nil }

// Writer appends audit events to a JSONL file.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter creates an append-only audit writer for path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append writes one event as one JSONL line. A zero Time is set to now.
func (w *Writer) Append(event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}
