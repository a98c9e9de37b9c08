package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/claims-cli/internal/audit"
	"github.com/sells-group/claims-cli/internal/model"
	"github.com/sells-group/claims-cli/internal/session"
	"github.com/sells-group/claims-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for demonstration sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		api := &apiServer{env: e, managers: make(map[string]*session.Manager)}

		// Undelivered audit events are retried out-of-band while serving.
		if ws, ok := e.sink.(*audit.WebhookSink); ok {
			go drainAuditQueue(ctx, ws)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown: close the listener, then end open sessions so
		// every environment is released.
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background()) //nolint:errcheck
			api.endAll()
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func drainAuditQueue(ctx context.Context, sink *audit.WebhookSink) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delivered, err := sink.RetryPending(ctx, 50)
			if err != nil {
				zap.L().Warn("audit retry sweep failed", zap.Error(err))
				continue
			}
			if delivered > 0 {
				zap.L().Info("audit retry sweep delivered events", zap.Int("count", delivered))
			}
		}
	}
}

// apiServer exposes session lifecycle and claim submission over REST.
type apiServer struct {
	env *env

	mu       sync.Mutex
	managers map[string]*session.Manager
}

func (s *apiServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/sessions", s.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Delete("/", s.handleEndSession)
		r.Get("/spend", s.handleSpend)
		r.Post("/claims", s.handleSubmitClaim)
	})
	r.Get("/results/{claimID}", s.handleGetResult)
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	m := s.env.newManager()
	sess, err := m.Start(r.Context())
	if err != nil {
		zap.L().Error("session start failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "session could not be provisioned")
		return
	}

	s.mu.Lock()
	s.managers[sess.ID] = m
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, sess)
}

func (s *apiServer) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	m := s.manager(chi.URLParam(r, "sessionID"))
	if m == nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var claim model.Claim
	if err := json.NewDecoder(r.Body).Decode(&claim); err != nil {
		writeError(w, http.StatusBadRequest, "invalid claim body")
		return
	}
	if claim.ID == "" {
		claim.ID = model.GenerateClaimID()
	}
	if claim.Status == "" {
		claim.Status = model.ClaimStatusSubmitted
	}
	if claim.SubmittedAt.IsZero() {
		claim.SubmittedAt = time.Now().UTC()
	}

	result, err := m.Submit(r.Context(), &claim)
	if errors.Is(err, session.ErrNotActive) {
		writeError(w, http.StatusConflict, "session is not accepting claims")
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	m := s.manager(sessionID)
	if m == nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	if err := m.End(r.Context()); err != nil {
		zap.L().Error("session end failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	s.mu.Lock()
	delete(s.managers, sessionID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, m.Session())
}

func (s *apiServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Live sessions answer from memory; ended ones from the store.
	if m := s.manager(sessionID); m != nil {
		writeJSON(w, http.StatusOK, m.Session())
		return
	}

	sess, err := s.env.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *apiServer) handleSpend(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	m := s.manager(sessionID)
	if m == nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	total, remaining := m.Spend()
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"total_usd":     total,
		"remaining_usd": remaining,
		"limit_usd":     cfg.Budget.LimitUSD,
	})
}

func (s *apiServer) handleGetResult(w http.ResponseWriter, r *http.Request) {
	claimID := chi.URLParam(r, "claimID")
	if !model.ValidClaimID(claimID) {
		writeError(w, http.StatusBadRequest, "invalid claim id")
		return
	}

	result, err := s.env.store.GetResult(r.Context(), claimID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no result for claim")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "result lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) manager(sessionID string) *session.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.managers[sessionID]
}

// endAll ends every live session during shutdown.
func (s *apiServer) endAll() {
	s.mu.Lock()
	managers := make([]*session.Manager, 0, len(s.managers))
	for _, m := range s.managers {
		managers = append(managers, m)
	}
	s.managers = make(map[string]*session.Manager)
	s.mu.Unlock()

	for _, m := range managers {
		if err := m.End(context.Background()); err != nil {
			zap.L().Error("session end during shutdown failed", zap.Error(err))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
