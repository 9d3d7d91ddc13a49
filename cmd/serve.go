package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadore/distill/internal/discovery"
	"github.com/leadore/distill/internal/model"
	"github.com/leadore/distill/internal/monitoring"
	"github.com/leadore/distill/internal/resilience"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server for discovery requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initDiscovery(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Background alert checker.
		checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			circuits := map[string]string{}
			for name, state := range env.Service.BreakerStates() {
				circuits[name] = state.String()
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"circuits": circuits,
			})
		})

		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			snap, err := env.Collector.Collect(req.Context(), cfg.Monitoring.Organizations)
			if err != nil {
				zap.L().Error("metrics collection failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics unavailable"})
				return
			}
			writeJSON(w, http.StatusOK, snap)
		})

		r.Get("/failures", func(w http.ResponseWriter, req *http.Request) {
			f := resilience.DLQFilter{ErrorType: req.URL.Query().Get("error_type")}
			if limit := req.URL.Query().Get("limit"); limit != "" {
				n, err := strconv.Atoi(limit)
				if err != nil || n < 0 {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
					return
				}
				f.Limit = n
			}
			writeJSON(w, http.StatusOK, env.Service.DeadLetters(f))
		})

		r.Post("/discover", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				OrganizationID string `json:"organization_id"`
				URL            string `json:"url"`
				Platform       string `json:"platform"`
				Score          bool   `json:"score"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			if body.URL == "" || body.OrganizationID == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization_id and url are required"})
				return
			}
			target := model.Target{
				OrganizationID: body.OrganizationID,
				URL:            body.URL,
				Platform:       model.Platform(body.Platform),
			}
			if target.Platform == "" {
				target.Platform = model.PlatformSite
			}
			if !target.Platform.Valid() {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown platform"})
				return
			}

			// Run asynchronously; results land in the store and on the event bus.
			go func() {
				rec, err := env.Service.Discover(ctx, target, discovery.Options{
					ComputeScore: body.Score,
					ScoringRules: env.ScoringRules,
				})
				if err != nil {
					zap.L().Error("webhook discovery failed",
						zap.String("url", target.URL),
						zap.Error(err),
					)
					return
				}
				zap.L().Info("webhook discovery complete",
					zap.String("url", target.URL),
					zap.Int("signals", len(rec.Signals)),
				)
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": "accepted",
				"url":    target.URL,
			})
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
			srv.Shutdown(ctx) //nolint:errcheck
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
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
