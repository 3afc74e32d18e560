package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/raillock/raillock/internal/policy"
)

const (
	policyFileMode = 0644
	policyDirMode  = 0755
)

var (
	// ErrInvalidName reports a filename that is empty or escapes the store.
	ErrInvalidName = errors.New("invalid policy filename")
	// ErrRejected reports a document that failed validation.
	ErrRejected = errors.New("policy document rejected")
)

// Options configures a Store.
type Options struct {
	// Dir is where relative names are resolved.
	Dir string
	// DefaultName is used when a save names no file.
	DefaultName string
	// Confined restricts names to bare file names inside Dir.
	Confined bool
}

// Store persists policy documents as YAML files.
type Store struct {
	dir         string
	defaultName string
	confined    bool
	mu          sync.Mutex
}

// New creates a policy file store.
func New(opts Options) *Store {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		dir = "."
	}
	name := strings.TrimSpace(opts.DefaultName)
	if name == "" {
		name = "raillock_config.yaml"
	}
	return &Store{dir: dir, defaultName: name, confined: opts.Confined}
}

// NormalizeName trims name, falls back to the default and appends ".yaml"
// unless the name already ends in .yaml or .yml.
func (s *Store) NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.defaultName
	}
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".yaml") && !strings.HasSuffix(lower, ".yml") {
		name += ".yaml"
	}
	return name
}

// Resolve maps name to the path it is stored at.
func (s *Store) Resolve(name string) (string, error) {
	name = s.NormalizeName(name)
	if s.confined {
		if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
			return "", fmt.Errorf("%w: %q must be a plain file name", ErrInvalidName, name)
		}
		return filepath.Join(s.dir, name), nil
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}
	return filepath.Join(s.dir, name), nil
}

// Read returns the contents of the named policy file.
func (s *Store) Read(name string) ([]byte, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return data, nil
}

// SaveDocument serializes doc and writes it under name.
func (s *Store) SaveDocument(name string, doc *policy.Document) (string, error) {
	data, err := doc.Marshal()
	if err != nil {
		return "", err
	}
	return s.Write(name, data)
}

// SaveManual validates hand-authored YAML and writes it verbatim, comments
// included. Documents with validation errors are refused with ErrRejected
// and the report.
func (s *Store) SaveManual(name string, data []byte, opts policy.ValidateOptions) (string, policy.Report, error) {
	src, err := policy.Parse(data)
	if err != nil {
		return "", policy.Report{}, err
	}
	report := src.Validate(opts)
	if !report.OK() {
		return "", report, fmt.Errorf("%w: %s", ErrRejected, strings.Join(report.Errors, "; "))
	}
	path, err := s.Write(name, data)
	return path, report, err
}

// Write atomically replaces the named file with data.
func (s *Store) Write(name string, data []byte) (string, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, policyDirMode); err != nil {
		return "", fmt.Errorf("create policy dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".raillock-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp policy file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return "", fmt.Errorf("write temp policy file: %w", err)
	}
	if err := tmpFile.Chmod(policyFileMode); err != nil {
		_ = tmpFile.Close()
		return "", fmt.Errorf("chmod temp policy file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("close temp policy file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return "", fmt.Errorf("replace policy file: rename failed (%v), remove failed (%v)", err, removeErr)
		}
		if retryErr := os.Rename(tmpPath, path); retryErr != nil {
			return "", fmt.Errorf("replace policy file after remove: %w", retryErr)
		}
	}
	return path, nil
}
