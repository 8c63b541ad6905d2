// ABOUTME: HTTP surface for OAuth setup, tracker webhooks and calendar discovery
// ABOUTME: chi router with request metrics; every sync failure is reported in the JSON body
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harperreed/issuecal/metrics"
	"github.com/harperreed/issuecal/models"
	isync "github.com/harperreed/issuecal/sync"
)

const maxBodyBytes = 1 << 20

// Authorizer is the token manager surface the OAuth routes need.
type Authorizer interface {
	AuthCodeURL(state string) (string, error)
	Authorize(ctx context.Context, userID, code string) (*isync.Grant, error)
	State(ctx context.Context, userID string) (isync.TokenState, error)
}

// SyncEngine handles change notifications and calendar discovery.
type SyncEngine interface {
	HandleChange(ctx context.Context, change models.IssueChange) isync.Result
	ListCalendars(ctx context.Context, userID string) ([]models.CalendarInfo, error)
}

type ServerOptions struct {
	Engine SyncEngine
	Tokens Authorizer
	Fields models.FieldNames
	Logger *log.Logger
	// APIKey guards every route except health, metrics and the OAuth callback.
	// It also keys the OAuth state signature.
	APIKey string
}

type Server struct {
	engine SyncEngine
	tokens Authorizer
	fields models.FieldNames
	logger *log.Logger
	apiKey string
	state  *stateSigner
}

func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		engine: opts.Engine,
		tokens: opts.Tokens,
		fields: opts.Fields.WithDefaults(),
		logger: logger.WithPrefix("web"),
		apiKey: opts.APIKey,
		state:  newStateSigner(opts.APIKey, time.Now),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	// The consent redirect cannot carry the key; the signed state stands in.
	r.Get("/oauth/callback", s.handleCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/oauth/url", s.handleAuthURL)
		r.Post("/oauth/token", s.handleToken)
		r.Post("/hooks/issue-change", s.handleIssueChange)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/calendars", s.handleCalendars)
			r.Get("/status", s.handleStatus)
		})
	})

	return r
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthURL returns the consent URL. The user id travels inside a signed
// OAuth state so the callback knows whose tokens to store.
func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user query parameter is required"))
		return
	}

	url, err := s.tokens.AuthCodeURL(s.state.Issue(userID))
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type tokenRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.UserID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id and code are required"))
		return
	}

	if _, err := s.tokens.Authorize(r.Context(), req.UserID, req.Code); err != nil {
		s.logger.Warn("authorization failed", "user", req.UserID, "err", err)
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authorized": true, "user_id": req.UserID})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Without a key the state signature is computable by anyone.
	if s.apiKey == "" {
		http.Error(w, "API key not configured", http.StatusServiceUnavailable)
		return
	}
	query := r.URL.Query()
	if msg := query.Get("error"); msg != "" {
		http.Error(w, "Authorization denied: "+msg, http.StatusBadRequest)
		return
	}
	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Missing code or state", http.StatusBadRequest)
		return
	}
	userID, err := s.state.Verify(state)
	if err != nil {
		s.logger.Warn("rejected oauth state", "err", err)
		http.Error(w, "Invalid state: "+err.Error(), http.StatusForbidden)
		return
	}

	if _, err := s.tokens.Authorize(r.Context(), userID, code); err != nil {
		s.logger.Warn("authorization failed", "user", userID, "err", err)
		http.Error(w, "Authorization failed: "+err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Calendar access authorized. You can close this window.\n")
}

// changeResponse is Result with its error flattened for JSON.
type changeResponse struct {
	isync.Result
	Error     string          `json:"error,omitempty"`
	ErrorKind isync.ErrorKind `json:"error_kind,omitempty"`
	ErrorCode isync.ErrorCode `json:"error_code,omitempty"`
}

func newChangeResponse(res isync.Result) changeResponse {
	out := changeResponse{Result: res}
	if res.Err != nil {
		out.Error = res.Err.Error()
		var se *isync.SyncError
		if errors.As(res.Err, &se) {
			out.ErrorKind = se.Kind
			out.ErrorCode = se.Code
		}
	}
	return out
}

// handleIssueChange always answers 200 for a decodable change so the tracker
// never blocks its own mutation on a calendar failure.
func (s *Server) handleIssueChange(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err))
		return
	}
	change, err := s.fields.DecodeChange(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res := s.engine.HandleChange(r.Context(), change)
	writeJSON(w, http.StatusOK, newChangeResponse(res))
}

func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	calendars, err := s.engine.ListCalendars(r.Context(), userID)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	if calendars == nil {
		calendars = []models.CalendarInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"calendars": calendars})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	state, err := s.tokens.State(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "token": string(state)})
}

// statusFor maps engine failures to HTTP status codes.
func statusFor(err error) int {
	var se *isync.SyncError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Kind {
	case isync.KindConfiguration:
		return http.StatusBadRequest
	case isync.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

func writeSyncError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	var se *isync.SyncError
	if errors.As(err, &se) {
		body["kind"] = string(se.Kind)
		body["code"] = string(se.Code)
	}
	writeJSON(w, statusFor(err), body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
