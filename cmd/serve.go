package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coaching-cli/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger surface",
	Long:  "Exposes endpoints to trigger pipeline runs and read active prompts and reward scores.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				DryRun    bool   `json:"dry_run"`
				SubjectID string `json:"subject_id"`
				CallID    string `json:"call_id"`
				Limit     int    `json:"limit"`
			}
			if req.Body != nil && req.ContentLength != 0 {
				if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
					http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
					return
				}
			}

			opts := pipeline.Options{
				DryRun:    body.DryRun,
				SubjectID: body.SubjectID,
				CallID:    body.CallID,
				Limit:     body.Limit,
			}

			// Runs execute asynchronously; the report lands in the logs.
			go func() {
				report, err := env.Pipeline.Run(ctx, opts)
				if err != nil {
					zap.L().Error("triggered run failed", zap.Error(err))
					return
				}
				zap.L().Info("triggered run finished",
					zap.Int("processed", report.Processed),
					zap.Int("errors", len(report.Errors)))
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		})

		r.Get("/subjects/{subjectID}/prompt", func(w http.ResponseWriter, req *http.Request) {
			subjectID := chi.URLParam(req, "subjectID")
			prompt, err := env.Store.GetActivePrompt(req.Context(), subjectID)
			if err != nil {
				zap.L().Error("load active prompt failed", zap.String("subject", subjectID), zap.Error(err))
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}
			if prompt == nil {
				http.Error(w, `{"error":"no active prompt"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, prompt)
		})

		r.Get("/calls/{callID}/reward", func(w http.ResponseWriter, req *http.Request) {
			callID := chi.URLParam(req, "callID")
			score, err := env.Store.GetRewardByCall(req.Context(), callID)
			if err != nil {
				zap.L().Error("load reward failed", zap.String("call", callID), zap.Error(err))
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}
			if score == nil {
				http.Error(w, `{"error":"call not scored"}`, http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, score)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
