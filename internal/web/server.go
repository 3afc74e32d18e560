package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/raillock/raillock/internal/config"
	"github.com/raillock/raillock/internal/inventory"
	"github.com/raillock/raillock/internal/policy"
	"github.com/raillock/raillock/internal/version"
)

const maxBodyBytes = 1 << 20

type Server struct {
	cfg        config.WebConfig
	service    *Service
	httpServer *http.Server
}

func New(cfg config.WebConfig, service *Service) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 8080
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg:     cfg,
		service: service,
	}
}

func (s *Server) Addr() string {
	return s.cfg.Addr()
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           NewHandler(s.service, s.cfg.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("raillock web api listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// NewHandler routes the review API. An empty origins list allows every
// origin.
func NewHandler(service *Service, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, logMiddleware, middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, requestIDFrom(r), http.StatusNotFound, "not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, requestIDFrom(r), http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"request_id": requestIDFrom(r),
		})
	})
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		info := version.Get()
		writeJSON(w, http.StatusOK, map[string]any{
			"version":    info.Version,
			"commit":     info.Commit,
			"go_version": info.GoVersion,
			"request_id": requestIDFrom(r),
		})
	})

	h := &handlers{service: service}
	r.Route("/api", func(r chi.Router) {
		r.Get("/tools", h.tools)
		r.Get("/template", h.template)
		r.Get("/stats", h.stats)
		r.Post("/preview-config", h.preview)
		r.Post("/save-config", h.save)
		r.Post("/save-manual-config", h.saveManual)
		r.Post("/compare-config", h.compare)
		r.Post("/validate-config", h.validate)
	})

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler(r)
}

type handlers struct {
	service *Service
}

type choicesRequest struct {
	Choices  map[string]string `json:"choices"`
	Filename string            `json:"filename"`
}

func (h *handlers) tools(w http.ResponseWriter, r *http.Request) {
	var (
		snap inventory.Snapshot
		err  error
	)
	if r.URL.Query().Get("refresh") != "" {
		snap, err = h.service.Refresh(r.Context())
	} else {
		snap, err = h.service.Snapshot(r.Context())
	}
	if err != nil {
		writeFailure(w, requestIDFrom(r), err)
		return
	}
	if snap.Tools == nil {
		snap.Tools = []inventory.Tool{}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) template(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"yaml_content": policy.Template,
	})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.service.LoadStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"loads":           stats,
		"error_ratio":     stats.ErrorRatio(),
		"avg_latency_ms":  stats.AvgLatencyMs(),
		"inventory_cache": h.service.Cached(),
	})
}

func (h *handlers) preview(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	var req choicesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, requestID, err)
		return
	}
	doc, summary, err := h.service.Preview(r.Context(), req.Choices)
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}
	data, err := doc.Marshal()
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"summary":      summary,
		"yaml_content": string(data),
	})
}

func (h *handlers) save(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	var req choicesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, requestID, err)
		return
	}
	path, err := h.service.Save(r.Context(), requestID, req.Choices, req.Filename)
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"config_path": path,
	})
}

func (h *handlers) saveManual(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	var req struct {
		YAMLContent string `json:"yaml_content"`
		Filename    string `json:"filename"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, requestID, err)
		return
	}
	if strings.TrimSpace(req.YAMLContent) == "" {
		writeError(w, requestID, http.StatusBadRequest, "No YAML content provided", nil)
		return
	}
	path, report, err := h.service.SaveManual(requestID, req.YAMLContent, req.Filename)
	if err != nil {
		if len(report.Errors) > 0 {
			writeError(w, requestID, http.StatusBadRequest, "Configuration validation failed", report.Errors)
			return
		}
		writeFailure(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"config_path": path,
		"warnings":    report.Warnings,
	})
}

func (h *handlers) compare(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	var req struct {
		ConfigContent string `json:"config_content"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, requestID, err)
		return
	}
	result, err := h.service.Compare(r.Context(), req.ConfigContent)
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"summary":         result.Summary,
		"comparison_data": result.Rows,
	})
}

func (h *handlers) validate(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	var req struct {
		YAMLContent string `json:"yaml_content"`
		Strict      bool   `json:"strict"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeFailure(w, requestID, err)
		return
	}
	report, err := h.service.Validate(req.YAMLContent, req.Strict)
	if err != nil {
		writeFailure(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  report.OK(),
		"outcome":  report.Outcome(),
		"errors":   report.Errors,
		"warnings": report.Warnings,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequestf("invalid json request: %v", err)
	}
	return nil
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		level := slog.LevelDebug
		switch {
		case ww.Status() >= 500:
			level = slog.LevelError
		case ww.Status() >= 400:
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, http.StatusText(ww.Status()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes_written", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", requestIDFrom(r),
		)
	})
}

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return getRequestID(r)
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return uuid.NewString()
}

// writeFailure maps err onto 400, 502 or 500.
func writeFailure(w http.ResponseWriter, requestID string, err error) {
	status := http.StatusInternalServerError
	var parseErr *policy.ParseError
	switch {
	case errors.Is(err, errBadRequest), errors.As(err, &parseErr):
		status = http.StatusBadRequest
	case errors.Is(err, inventory.ErrUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "request_id", requestID, "error", err)
	}
	writeError(w, requestID, status, err.Error(), nil)
}

func writeError(w http.ResponseWriter, requestID string, status int, message string, errs []string) {
	body := map[string]any{
		"success":    false,
		"error":      message,
		"request_id": requestID,
	}
	if len(errs) > 0 {
		body["errors"] = errs
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
