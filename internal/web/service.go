package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/raillock/raillock/internal/audit"
	"github.com/raillock/raillock/internal/inventory"
	"github.com/raillock/raillock/internal/mcp"
	"github.com/raillock/raillock/internal/metrics"
	"github.com/raillock/raillock/internal/policy"
	"github.com/raillock/raillock/internal/review"
	"github.com/raillock/raillock/internal/store"
)

// InventoryLoader reads the live tool inventory of a target.
type InventoryLoader interface {
	Load(ctx context.Context, target mcp.Target) (inventory.Snapshot, error)
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Loader InventoryLoader
	Target mcp.Target
	Store  *store.Store
	Audit  audit.Recorder
	Logger *slog.Logger
}

// Service holds the state of one server process: the target under review,
// its cached inventory and the policy store.
type Service struct {
	loader InventoryLoader
	target mcp.Target
	store  *store.Store
	audit  audit.Recorder
	logger *slog.Logger

	loads   singleflight.Group
	metrics *metrics.LoadRecorder

	mu       sync.Mutex
	snapshot *inventory.Snapshot
}

// NewService creates a service for opts.Target.
func NewService(opts ServiceOptions) *Service {
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = store.New(store.Options{Confined: true})
	}
	return &Service{
		loader:  opts.Loader,
		target:  opts.Target,
		store:   opts.Store,
		audit:   opts.Audit,
		logger:  opts.Logger,
		metrics: metrics.NewLoadRecorder(),
	}
}

// Snapshot returns the cached inventory, loading it on first use. Concurrent
// callers share one load. A failed load is not cached.
func (s *Service) Snapshot(ctx context.Context) (inventory.Snapshot, error) {
	s.mu.Lock()
	cached := s.snapshot
	s.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	return s.Refresh(ctx)
}

// Refresh reloads the inventory and replaces the cache.
func (s *Service) Refresh(ctx context.Context) (inventory.Snapshot, error) {
	if s.loader == nil {
		return inventory.Snapshot{}, inventory.Unavailable(s.target.Raw, errors.New("no inventory loader configured"))
	}
	v, err, _ := s.loads.Do("inventory", func() (any, error) {
		// The load is shared, so one caller going away must not cancel it.
		start := time.Now()
		snap, err := s.loader.Load(context.WithoutCancel(ctx), s.target)
		s.metrics.Record(time.Since(start), len(snap.Tools), err)
		if err != nil {
			return inventory.Snapshot{}, err
		}
		s.mu.Lock()
		s.snapshot = &snap
		s.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		s.logger.Warn("inventory load failed", "server", s.target.Raw, "error", err)
		return inventory.Snapshot{}, err
	}
	return v.(inventory.Snapshot), nil
}

// Cached reports whether an inventory is cached.
func (s *Service) Cached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot != nil
}

// LoadStats reports how inventory loads against the target have gone.
func (s *Service) LoadStats() metrics.LoadStats {
	return s.metrics.Stats()
}

// Preview compiles choices against the live inventory without saving.
func (s *Service) Preview(ctx context.Context, choices map[string]string) (*policy.Document, policy.Summary, error) {
	state, err := review.FromChoices(choices)
	if err != nil {
		return nil, policy.Summary{}, badRequest(err)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, policy.Summary{}, err
	}
	doc, summary := policy.Build(snap.Tools, state, policy.ServerMeta{
		Name: snap.ServerName,
		Type: snap.ServerType,
	})
	return doc, summary, nil
}

// Save compiles choices and writes the document under filename.
func (s *Service) Save(ctx context.Context, requestID string, choices map[string]string, filename string) (string, error) {
	doc, _, err := s.Preview(ctx, choices)
	if err != nil {
		return "", err
	}
	path, err := s.store.SaveDocument(filename, doc)
	if err != nil {
		return "", s.storeError(err)
	}
	s.record(audit.Event{
		Type:      audit.TypePolicySaved,
		RequestID: requestID,
		Server:    doc.Server.Name,
		Path:      path,
		Source:    "review",
		Result:    string(policy.OutcomeClean),
	})
	s.logger.Info("policy saved", "path", path, "server", doc.Server.Name, "request_id", requestID)
	return path, nil
}

// SaveManual validates hand-authored YAML and writes it verbatim.
func (s *Service) SaveManual(requestID string, content, filename string) (string, policy.Report, error) {
	path, report, err := s.store.SaveManual(filename, []byte(content), policy.ValidateOptions{})
	if err != nil {
		if errors.Is(err, store.ErrRejected) {
			s.record(audit.Event{
				Type:      audit.TypePolicyRejected,
				RequestID: requestID,
				Source:    "manual",
				Result:    string(report.Outcome()),
				Warnings:  report.Warnings,
			})
		}
		return "", report, s.storeError(err)
	}
	s.record(audit.Event{
		Type:      audit.TypePolicySaved,
		RequestID: requestID,
		Path:      path,
		Source:    "manual",
		Result:    string(report.Outcome()),
		Warnings:  report.Warnings,
	})
	s.logger.Info("manual policy saved", "path", path, "warnings", len(report.Warnings), "request_id", requestID)
	return path, report, nil
}

// Compare reconciles a policy document against the live inventory.
func (s *Service) Compare(ctx context.Context, content string) (policy.Comparison, error) {
	src, err := policy.Parse([]byte(content))
	if err != nil {
		return policy.Comparison{}, err
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return policy.Comparison{}, err
	}
	return policy.Compare(src.Document(), snap.Tools), nil
}

// Validate checks a policy document without touching the inventory.
func (s *Service) Validate(content string, strict bool) (policy.Report, error) {
	src, err := policy.Parse([]byte(content))
	if err != nil {
		return policy.Report{}, err
	}
	return src.Validate(policy.ValidateOptions{Strict: strict}), nil
}

func (s *Service) storeError(err error) error {
	var parseErr *policy.ParseError
	if errors.As(err, &parseErr) || errors.Is(err, store.ErrInvalidName) || errors.Is(err, store.ErrRejected) {
		return badRequest(err)
	}
	return err
}

func (s *Service) record(event audit.Event) {
	if err := s.audit.Append(event); err != nil {
		s.logger.Warn("audit append failed", "type", event.Type, "error", err)
	}
}

var errBadRequest = errors.New("bad request")

type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }

func (e *requestError) Unwrap() []error { return []error{errBadRequest, e.err} }

func badRequest(err error) error {
	if err == nil {
		return nil
	}
	return &requestError{err: err}
}

func badRequestf(format string, args ...any) error {
	return badRequest(fmt.Errorf(format, args...))
}
