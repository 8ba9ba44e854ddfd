package main

import (
	"context"
	"encoding/json"
	"errors"
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

	"github.com/shelfline/curator-cli/internal/pipeline"
	"github.com/shelfline/curator-cli/internal/workflow"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
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
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			// The signal context is already cancelled; give in-flight
			// requests their own deadline to drain.
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

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/process", env.handleProcessStart)
		r.Post("/process/stop", env.handleProcessStop)
		r.Get("/progress", env.handleProgress)

		r.Post("/products/{sku}/approve", env.reviewHandler(env.manager.Approve))
		r.Post("/products/{sku}/decline", env.reviewHandler(env.manager.Decline))
		r.Post("/products/{sku}/unapprove", env.reviewHandler(env.manager.Unapprove))
		r.Post("/products/{sku}/reprocess", env.reviewHandler(env.manager.Reprocess))

		r.Post("/bulk/approve", env.bulkHandler(env.manager.BulkApprove))
		r.Post("/bulk/decline", env.bulkHandler(env.manager.BulkDecline))

		r.Post("/clear", env.handleClear)
		r.Get("/stats", env.handleStats)
		r.Get("/learning", env.handleLearning)
	})

	return r
}

func (e *appEnv) handleProcessStart(w http.ResponseWriter, r *http.Request) {
	var opts pipeline.StartOptions
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if e.runner.Progress().Active {
		writeError(w, http.StatusConflict, "a batch is already running")
		return
	}

	go func() {
		// Detached from the request context: the batch outlives the call.
		batch, err := e.runner.Run(context.Background(), opts)
		if err != nil {
			var running *pipeline.AlreadyRunningError
			if errors.As(err, &running) {
				zap.L().Warn("batch start raced a running batch")
				return
			}
			zap.L().Error("batch failed", zap.Error(err))
			return
		}
		zap.L().Info("batch finished",
			zap.String("batch_id", batch.ID),
			zap.String("status", string(batch.Status)),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (e *appEnv) handleProcessStop(w http.ResponseWriter, _ *http.Request) {
	e.runner.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (e *appEnv) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, e.runner.Progress())
}

type reviewOp func(ctx context.Context, sku string) (bool, string)

func (e *appEnv) reviewHandler(op reviewOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sku := chi.URLParam(r, "sku")
		ok, reason := op(r.Context(), sku)
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "reason": reason})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "reason": reason})
	}
}

type bulkOp func(ctx context.Context, skus []string) map[string]workflow.OpResult

func (e *appEnv) bulkHandler(op bulkOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SKUs []string `json:"skus"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.SKUs) == 0 {
			writeError(w, http.StatusBadRequest, "skus is required")
			return
		}
		writeJSON(w, http.StatusOK, op(r.Context(), req.SKUs))
	}
}

func (e *appEnv) handleClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope   string `json:"scope"`
		Confirm bool   `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scope == "" {
		writeError(w, http.StatusBadRequest, "scope is required")
		return
	}

	n, err := e.manager.Clear(r.Context(), workflow.ClearScope(req.Scope), req.Confirm)
	if err != nil {
		if errors.Is(err, workflow.ErrConfirmRequired) {
			writeError(w, http.StatusConflict, "destructive clear requires confirm")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (e *appEnv) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := e.store.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "count failed")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (e *appEnv) handleLearning(w http.ResponseWriter, r *http.Request) {
	insights, err := e.loop.Analyze(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analyze failed")
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
