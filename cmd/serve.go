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

	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/pipeline"
)

var (
	servePort   int
	serveStages string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run control server",
	Long:  "Exposes run lifecycle over HTTP: start, observe, cancel, retry, and stream events.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, serveStages)
		if err != nil {
			return err
		}
		defer env.Close()

		unsub := env.Broker.LogSink()
		defer unsub()

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
			_ = srv.Shutdown(cmd.Context())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// newRouter builds the control API over the engine.
func newRouter(env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Leads []model.Lead `json:"leads"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		runID, err := env.Engine.SetInitialData(req.Context(), body.Leads)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"run_id": runID})
	})

	r.Post("/runs/{runID}/resume", func(w http.ResponseWriter, req *http.Request) {
		if err := env.Engine.Resume(req.Context(), chi.URLParam(req, "runID")); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
	})

	r.Post("/step", func(w http.ResponseWriter, req *http.Request) {
		err := env.Engine.ProcessCurrentStep(req.Context())
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"status": "stage complete"})
		case eris.Is(err, pipeline.ErrNoRun):
			writeError(w, http.StatusNotFound, err.Error())
		case eris.Is(err, pipeline.ErrRunComplete):
			writeJSON(w, http.StatusOK, map[string]string{"status": "run complete"})
		case eris.Is(err, pipeline.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		case eris.Is(err, pipeline.ErrCancelled):
			writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
	})

	r.Post("/cancel", func(w http.ResponseWriter, req *http.Request) {
		env.Engine.Cancel()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
	})

	r.Post("/retry", func(w http.ResponseWriter, req *http.Request) {
		if err := env.Engine.RetryCurrentStage(req.Context()); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "retrying"})
	})

	r.Get("/state", func(w http.ResponseWriter, req *http.Request) {
		state := env.Engine.State()
		if state == nil {
			writeError(w, http.StatusNotFound, "no run loaded")
			return
		}
		writeJSON(w, http.StatusOK, state)
	})

	r.Get("/summary", func(w http.ResponseWriter, req *http.Request) {
		state := env.Engine.State()
		if state == nil {
			writeError(w, http.StatusNotFound, "no run loaded")
			return
		}
		writeJSON(w, http.StatusOK, env.Aggregator.Run(env.Engine.Stages(), state.StageAnalytics))
	})

	r.Get("/events", func(w http.ResponseWriter, req *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		ch, cancel := env.Broker.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-req.Context().Done():
				return
			case ev, open := <-ch:
				if !open {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	})

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

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveStages, "stages", "", "YAML stage plan")
	rootCmd.AddCommand(serveCmd)
}
