// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"github.com/iius-rcox/ai-assistant-sub001/overedit"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// ServerConfig holds configuration for the record server
type ServerConfig struct {
	DatabaseURL string // empty selects the in-memory store
	JWTSecret   string
	Logger      *slog.Logger
	AppName     string
	Fields      *overedit.FieldSchema
	Metrics     bool             // expose GET /metrics
	Seed        []*overedit.Record // records inserted at startup
	LogRequests bool
}

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Pool     *pgxpool.Pool // nil for the in-memory store
	Store    overedit.RecordStore
	Service  *overedit.RecordService
	JWTAuth  *overedit.JWTAuth
	Registry *prometheus.Registry
	Handler  http.Handler
	Logger   *slog.Logger
}

// TestServer represents a running test server instance
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// SetupServer initializes the store, service and handlers.
// This is the shared logic used by the serve command and tests.
func SetupServer(ctx context.Context, config *ServerConfig) (*ServerComponents, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appName := config.AppName
	if appName == "" {
		appName = "overedit"
	}

	sc := &ServerComponents{Logger: logger}
	if config.DatabaseURL == "" {
		sc.Store = overedit.NewMemoryStore()
		logger.Info("Using in-memory record store")
	} else {
		poolConfig, err := pgxpool.ParseConfig(config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse database url: %w", err)
		}
		poolConfig.MaxConns = 20
		poolConfig.MinConns = 2
		poolConfig.MaxConnLifetime = time.Hour
		poolConfig.MaxConnIdleTime = 30 * time.Minute

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to reach database: %w", err)
		}
		store, err := overedit.NewPGStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		sc.Pool = pool
		sc.Store = store
	}

	serviceConfig := &overedit.ServiceConfig{
		AppName: appName,
		Fields:  config.Fields,
	}
	if config.Metrics {
		sc.Registry = prometheus.NewRegistry()
		recorder, err := overedit.NewPrometheusRecorder(sc.Registry)
		if err != nil {
			sc.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		serviceConfig.StageMetrics = recorder
	}

	service, err := overedit.NewRecordService(sc.Store, serviceConfig, logger)
	if err != nil {
		sc.Close()
		return nil, err
	}
	sc.Service = service

	for _, rec := range config.Seed {
		if _, err := service.PutRecord(ctx, rec); err != nil {
			sc.Close()
			return nil, fmt.Errorf("failed to seed record %s: %w", rec.ID, err)
		}
	}

	jwtSecret := config.JWTSecret
	if jwtSecret == "" {
		jwtSecret = defaultJWTSecret
		logger.Warn("Using default JWT secret - change in production!")
	}
	sc.JWTAuth = overedit.NewJWTAuth(jwtSecret)

	handlers := overedit.NewHTTPHandlers(service, sc.JWTAuth, logger)
	api := handlers.Routes()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handlers.HandleHealth)
	mux.Handle("GET /records/{id}", LoggingMiddleware(config.LogRequests, sc.JWTAuth.Middleware(api), logger))
	mux.Handle("POST /records/{id}/write", LoggingMiddleware(config.LogRequests, sc.JWTAuth.Middleware(api), logger))
	mux.Handle("PUT /pipeline/records/{id}", LoggingMiddleware(config.LogRequests, sc.JWTAuth.Middleware(http.HandlerFunc(sc.handlePipelinePut)), logger))
	mux.HandleFunc("POST /dummy-signin", sc.handleDummySignin)
	if sc.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(sc.Registry, promhttp.HandlerOpts{}))
	}
	sc.Handler = mux
	return sc, nil
}

// Close shuts down the server components and cleans up resources
func (sc *ServerComponents) Close() {
	if sc.Service != nil {
		_ = sc.Service.Close()
	}
	if sc.Pool != nil {
		sc.Pool.Close()
	}
}

// pipelineRecord is the body of PUT /pipeline/records/{id}
type pipelineRecord struct {
	Values  overedit.Values   `json:"values"`
	Display map[string]string `json:"display,omitempty"`
}

// handlePipelinePut lets the classification pipeline create or reclassify a record.
func (sc *ServerComponents) handlePipelinePut(w http.ResponseWriter, r *http.Request) {
	var body pipelineRecord
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, overedit.ReasonBadPayload, "invalid JSON")
		return
	}
	rec, err := sc.Service.PutRecord(r.Context(), &overedit.Record{
		ID:      r.PathValue("id"),
		Values:  body.Values,
		Display: body.Display,
	})
	if err != nil {
		if errors.Is(err, overedit.ErrBadPayload) {
			writeError(w, http.StatusBadRequest, overedit.ReasonBadPayload, err.Error())
			return
		}
		sc.Logger.Error("Pipeline put failed", "error", err, "record_id", r.PathValue("id"))
		writeError(w, http.StatusInternalServerError, overedit.ReasonInternalError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(overedit.ToRecordResponse(rec))
}

// handleDummySignin returns a JWT for the provided user; any password is accepted.
func (sc *ServerComponents) handleDummySignin(w http.ResponseWriter, r *http.Request) {
	type signinReq struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	type signinResp struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
		User      string `json:"user"`
		SessionID string `json:"session_id"`
	}
	var req signinReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, overedit.ReasonInvalidRequest, "invalid JSON")
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, overedit.ReasonInvalidRequest, "user required")
		return
	}
	sessionID := uuid.NewString()
	tok, err := sc.JWTAuth.GenerateToken(req.User, sessionID, 30*time.Minute)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(signinResp{Token: tok, ExpiresIn: 1800, User: req.User, SessionID: sessionID})
	sc.Logger.Info("Generated dummy JWT", "user", req.User, "session_id", sessionID)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(overedit.ErrorResponse{Error: code, Message: message})
}

// NewTestServer creates a new test server instance using the shared server setup
func NewTestServer(config *ServerConfig) (*TestServer, error) {
	components, err := SetupServer(context.Background(), config)
	if err != nil {
		return nil, err
	}
	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}, nil
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}

// GenerateToken generates a JWT token for testing
func (ts *TestServer) GenerateToken(userID, sessionID string, duration time.Duration) (string, error) {
	return ts.JWTAuth.GenerateToken(userID, sessionID, duration)
}

// LoggingMiddleware logs HTTP requests when enabled
func LoggingMiddleware(enableLogging bool, next http.Handler, logger *slog.Logger) http.Handler {
	if !enableLogging {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("HTTP Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
