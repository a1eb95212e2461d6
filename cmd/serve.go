package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only property snapshots over HTTP",
	Long:  "Exposes stored properties and their latest evaluation outcomes as JSON. Strictly read-only: the server never mutates pipeline state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline()
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Get("/session", func(w http.ResponseWriter, req *http.Request) {
			s, err := env.Sessions.Peek()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if s == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session"})
				return
			}
			s.Recount()
			writeJSON(w, http.StatusOK, s)
		})

		r.Get("/properties", func(w http.ResponseWriter, req *http.Request) {
			records := env.Properties.All()
			snaps := make([]model.Snapshot, 0, len(records))
			for _, rec := range records {
				snaps = append(snaps, snapshotFor(req, env, rec))
			}
			writeJSON(w, http.StatusOK, snaps)
		})

		r.Get("/properties/{address}", func(w http.ResponseWriter, req *http.Request) {
			rec := env.Properties.Get(chi.URLParam(req, "address"))
			if rec == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown property"})
				return
			}
			writeJSON(w, http.StatusOK, snapshotFor(req, env, rec))
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// snapshotFor combines the stored record with its latest archived evaluation.
// Records are copies; handlers never see live pipeline state.
func snapshotFor(req *http.Request, env *pipelineEnv, rec *model.PropertyRecord) model.Snapshot {
	snap := model.Snapshot{Record: rec}
	if ev, err := env.Archive.Latest(req.Context(), rec.Normalized); err == nil && ev != nil {
		snap.Eligibility = ev.Eligibility
		snap.Score = ev.Score
		snap.Tier = ev.Tier
	}
	return snap
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("serve: encode response", zap.Error(err))
	}
}
