package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/config"
	"github.com/sells-group/leadextract/internal/transcript"
	"github.com/sells-group/leadextract/internal/webhook"
	"github.com/sells-group/leadextract/pkg/ssocrypt"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conversation webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initService(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env, cfg),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP surface: the CRM webhook, read-only views for
// the admin UI, and the SSO session decryptor.
func newRouter(env *serviceEnv, c *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: c.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", handleHealth(env))
	r.Post("/webhook/conversation", handleWebhook(env))
	r.Get("/conversations/{conversationID}/transcript", handleTranscript(env, c))
	r.Get("/locations/{locationID}/usage", handleUsage(env))
	r.Post("/sso/decrypt", handleSSODecrypt(c))

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func handleHealth(env *serviceEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := env.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleWebhook(env *serviceEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p webhook.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := env.Ingestor.Ingest(r.Context(), &p)
		if err != nil {
			var verr *webhook.ValidationError
			if errors.As(err, &verr) {
				writeError(w, http.StatusBadRequest, verr.Error())
				return
			}
			zap.L().Error("webhook ingest failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "ingest failed")
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

func handleTranscript(env *serviceEnv, c *config.Config) http.HandlerFunc {
	assembler := transcript.NewAssembler(env.Store)
	return func(w http.ResponseWriter, r *http.Request) {
		limit := c.Extraction.AuditLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		tr, err := assembler.Assemble(r.Context(), chi.URLParam(r, "conversationID"), limit)
		if err != nil {
			zap.L().Error("transcript assembly failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "transcript assembly failed")
			return
		}
		writeJSON(w, http.StatusOK, tr)
	}
}

func handleUsage(env *serviceEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month := time.Now().UTC()
		if raw := r.URL.Query().Get("month"); raw != "" {
			m, err := time.Parse("2006-01", raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
				return
			}
			month = m
		}

		sum, err := env.Store.MonthlyUsageSummary(r.Context(), chi.URLParam(r, "locationID"), month)
		if err != nil {
			zap.L().Error("usage summary failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "usage summary failed")
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

func handleSSODecrypt(c *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Payload string `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Payload == "" {
			writeError(w, http.StatusBadRequest, "payload is required")
			return
		}
		if c.SSO.SharedSecret == "" {
			writeError(w, http.StatusServiceUnavailable, "sso is not configured")
			return
		}

		identity, err := ssocrypt.DecryptIdentity(req.Payload, c.SSO.SharedSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session payload")
			return
		}
		writeJSON(w, http.StatusOK, identity)
	}
}
