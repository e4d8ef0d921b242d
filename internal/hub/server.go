// Package hub is a reference implementation of the remote record store the
// sync engine talks to: an in-memory multi-tenant store over the cards,
// subjects and courses collections, served over a small REST API with a
// websocket change feed per collection and an OAuth2-style token endpoint
// issuing workspace-scoped JWTs. It backs the cardsync-hub binary and the
// end-to-end tests.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tonimelisma/cardsync/internal/model"
)

// Request limits and timeouts.
const (
	maxBodyBytes    = 32 << 20
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
	minKeyLength    = 16
)

// Query parameters, matching the client.
const (
	paramWorkspace    = "workspace_id"
	paramUpdatedSince = "updated_since"
)

// Options configures a Server.
type Options struct {
	// SigningKey is the HS256 secret for access and refresh tokens.
	SigningKey string

	// TokenLifetime is the access token lifetime; refresh tokens live
	// considerably longer.
	TokenLifetime time.Duration

	// Users maps usernames to passwords. Empty accepts any credentials.
	Users map[string]string
}

// Server is the reference remote store.
type Server struct {
	records *records
	broker  *broker
	issuer  *issuer
	logger  *slog.Logger
	handler http.Handler

	// ctx ends open change feeds on Close.
	ctx    context.Context
	cancel context.CancelFunc
	feeds  sync.WaitGroup
}

// New creates a Server.
func New(opts Options, logger *slog.Logger) (*Server, error) {
	if len(opts.SigningKey) < minKeyLength {
		return nil, fmt.Errorf("hub: signing key must be at least %d characters", minKeyLength)
	}

	if opts.TokenLifetime <= 0 {
		return nil, errors.New("hub: token lifetime must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		records: newRecords(),
		broker:  newBroker(logger),
		issuer: &issuer{
			key:      []byte(opts.SigningKey),
			lifetime: opts.TokenLifetime,
			users:    opts.Users,
			timeFunc: time.Now,
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	s.handler = s.routes()

	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.echoRequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/token", s.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/{collection}", s.handleSelect)
			r.Post("/{collection}", s.handleUpsert)
			r.Delete("/{collection}/{id}", s.handleDelete)
			r.Get("/{collection}/changes", s.handleChanges)
		})
	})

	return r
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close ends all open change feeds and waits for their handlers to return.
func (s *Server) Close() {
	s.cancel()
	s.feeds.Wait()
}

// Serve runs the API on ln until ctx is canceled, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)

	go func() {
		errc <- srv.Serve(ln)
	}()

	s.logger.Info("hub listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		s.Close()
		return fmt.Errorf("hub: serving: %w", err)
	case <-ctx.Done():
	}

	s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("hub: shutting down: %w", err)
	}

	return nil
}

// Subscribers returns the number of open change feeds for a workspace
// collection.
func (s *Server) Subscribers(workspace string, c model.Collection) int {
	return s.broker.count(workspace, c)
}

// Len returns the number of records stored in a workspace collection.
func (s *Server) Len(workspace string, c model.Collection) int {
	return s.records.count(workspace, c)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// handleToken implements the password and refresh_token grants.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request", "malformed form body")
		return
	}

	var (
		user, workspace string
	)

	switch grant := r.PostForm.Get("grant_type"); grant {
	case "password":
		user = r.PostForm.Get("username")
		if err := s.issuer.checkCredentials(user, r.PostForm.Get("password")); err != nil {
			s.logger.Info("rejected password grant", slog.String("user", user))
			writeOAuthError(w, "invalid_grant", err.Error())

			return
		}

		workspace = firstScope(r.PostForm.Get("scope"))

	case "refresh_token":
		c, err := s.issuer.validate(r.PostForm.Get("refresh_token"), tokenRefresh)
		if err != nil {
			writeOAuthError(w, "invalid_grant", err.Error())
			return
		}

		user, workspace = c.Subject, c.Workspace

	default:
		writeOAuthError(w, "unsupported_grant_type", fmt.Sprintf("grant type %q", grant))
		return
	}

	pair, err := s.issuer.issue(user, workspace)
	if err != nil {
		if errors.Is(err, errMissingWorkspace) {
			writeOAuthError(w, "invalid_scope", err.Error())
			return
		}

		s.logger.Error("issuing token", slog.String("error", err.Error()))
		http.Error(w, "token issue failed", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(pair.expires / time.Second),
		RefreshToken: pair.refresh,
		Scope:        workspace,
	})
}

type ctxKey struct{}

// authenticate requires a valid access token and pins the request to the
// token's workspace. A workspace_id query parameter naming another
// workspace is rejected.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		c, err := s.issuer.validate(raw, tokenAccess)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		if ws := r.URL.Query().Get(paramWorkspace); ws != "" && ws != c.Workspace {
			http.Error(w, "token is not valid for this workspace", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, c)))
	})
}

func requestClaims(r *http.Request) *claims {
	c, _ := r.Context().Value(ctxKey{}).(*claims)
	return c
}

func collectionParam(w http.ResponseWriter, r *http.Request) (model.Collection, bool) {
	c, err := model.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return "", false
	}

	return c, true
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	c, ok := collectionParam(w, r)
	if !ok {
		return
	}

	var since time.Time

	if v := r.URL.Query().Get(paramUpdatedSince); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			http.Error(w, "bad "+paramUpdatedSince, http.StatusBadRequest)
			return
		}

		since = t
	}

	writeJSON(w, http.StatusOK, s.records.selectSince(requestClaims(r).Workspace, c, since))
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	c, ok := collectionParam(w, r)
	if !ok {
		return
	}

	var batch []json.RawMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&batch); err != nil {
		http.Error(w, "body must be a JSON array of records", http.StatusBadRequest)
		return
	}

	workspace := requestClaims(r).Workspace

	stored, events, err := s.records.upsert(workspace, c, batch)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errWorkspaceMismatch) {
			status = http.StatusForbidden
		}

		http.Error(w, err.Error(), status)

		return
	}

	for _, ev := range events {
		s.broker.publish(ev)
	}

	s.logger.Debug("upserted records",
		slog.String("workspace", workspace),
		slog.String("collection", c.String()),
		slog.Int("count", len(stored)),
	)

	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := collectionParam(w, r)
	if !ok {
		return
	}

	ev, err := s.records.remove(requestClaims(r).Workspace, c, chi.URLParam(r, "id"))
	if errors.Is(err, errRecordNotFound) {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}

	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.broker.publish(ev)
	w.WriteHeader(http.StatusNoContent)
}

// handleChanges streams a workspace collection's change events over a
// websocket until the client goes away or the server closes.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	c, ok := collectionParam(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	s.feeds.Add(1)
	defer s.feeds.Done()

	workspace := requestClaims(r).Workspace

	sub, unsubscribe := s.broker.subscribe(workspace, c)
	defer unsubscribe()

	// The feed is one-way; CloseRead handles control frames and reports the
	// client going away through ctx.
	ctx := conn.CloseRead(s.ctx)

	s.logger.Debug("change feed opened",
		slog.String("workspace", workspace),
		slog.String("collection", c.String()),
	)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server closing")
			return

		case data, ok := <-sub.events:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()

			if err != nil {
				s.logger.Debug("change feed write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Server) echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func firstScope(scope string) string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}
