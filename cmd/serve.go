package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradintel/tuition-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for extraction requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		mux := newServeMux(ctx, env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newServeMux(ctx context.Context, env *pipelineEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /quota", func(w http.ResponseWriter, r *http.Request) {
		status, err := env.Guard.Status(r.Context())
		if err != nil {
			http.Error(w, `{"error":"quota unavailable"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("POST /extract", func(w http.ResponseWriter, r *http.Request) {
		var req model.ExtractionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.School == "" || req.Program == "" {
			http.Error(w, `{"error":"school and program are required"}`, http.StatusBadRequest)
			return
		}

		// Extraction can take minutes with retries; run it detached from the
		// request and let callers poll attempt history.
		go func() {
			attempt := env.Pipeline.Extract(ctx, req.School, req.Program)
			zap.L().Info("api extraction complete",
				zap.String("school", req.School),
				zap.String("program", req.Program),
				zap.String("status", string(attempt.Verification.Status)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "accepted",
			"school":  req.School,
			"program": req.Program,
		})
	})

	mux.HandleFunc("POST /verify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			School    string                     `json:"school"`
			Program   string                     `json:"program"`
			Candidate *model.ExtractionCandidate `json:"candidate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Candidate == nil || req.School == "" || req.Program == "" {
			http.Error(w, `{"error":"school, program, and candidate are required"}`, http.StatusBadRequest)
			return
		}
		if req.Candidate.Status == "" {
			req.Candidate.Status = model.StatusSuccess
		}

		result := env.Pipeline.Verify(r.Context(), req.Candidate, req.School, req.Program)
		writeJSON(w, http.StatusOK, result)
	})

	return mux
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
