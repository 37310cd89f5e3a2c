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
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/scout-cli/internal/checkpoint"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control server for scans and checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScout(ctx, cfg.Anthropic.SonnetModel, nil)
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
			Handler: newRouter(ctx, env),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			env.Scout.Stop()
			return srv.Shutdown(shutCtx)
		})

		return g.Wait()
	},
}

func newRouter(ctx context.Context, env *scoutEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		stats, err := env.Store.Stats(req.Context())
		if err != nil {
			zap.L().Warn("stats failed", zap.Error(err))
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"running":  env.Scout.Running(),
			"progress": env.Scout.Progress(),
			"graph":    stats,
		})
	})

	r.Get("/api/results", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, env.Scout.Results())
	})

	r.Get("/api/queries", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, env.Scout.QueryLog())
	})

	r.Get("/api/cost", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]any{
			"summary": env.Cost.Summarize(),
			"sources": env.Cost.RankSources(),
			"curve":   env.Cost.EfficiencyCurve(),
		})
	})

	r.Get("/api/checkpoint", func(w http.ResponseWriter, _ *http.Request) {
		p := env.Sink.Pending()
		if p == nil {
			writeJSONResponse(w, http.StatusOK, map[string]any{"pending": false})
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{"pending": true, "checkpoint": p})
	})

	r.Post("/api/checkpoint/respond", func(w http.ResponseWriter, req *http.Request) {
		var resp checkpoint.Response
		if err := json.NewDecoder(req.Body).Decode(&resp); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if err := env.Sink.Respond(resp); err != nil {
			writeJSONResponse(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "accepted"})
	})

	r.Post("/api/scan/start", func(w http.ResponseWriter, _ *http.Request) {
		if env.Scout.Running() {
			writeJSONResponse(w, http.StatusConflict, map[string]string{"error": "scan already running"})
			return
		}
		go func() {
			if err := env.Scout.Run(ctx); err != nil {
				zap.L().Error("scan failed", zap.Error(err))
			}
		}()
		writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "started"})
	})

	r.Post("/api/scan/stop", func(w http.ResponseWriter, _ *http.Request) {
		env.Scout.Stop()
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "stopping"})
	})

	return r
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
