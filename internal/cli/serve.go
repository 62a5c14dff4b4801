package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/purlieu-studios/DevPilot-sub002/internal/agent"
	"github.com/purlieu-studios/DevPilot-sub002/internal/config"
	"github.com/purlieu-studios/DevPilot-sub002/internal/httpapi"
	"github.com/purlieu-studios/DevPilot-sub002/internal/notify"
	"github.com/purlieu-studios/DevPilot-sub002/internal/otel"
	"github.com/purlieu-studios/DevPilot-sub002/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	var (
		addr       string
		dev        bool
		apiKey     string
		enableOtel bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the DevPilot HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}

			var metricsHandler http.Handler
			if enableOtel {
				h, err := otel.InitMeterProvider(cmd.Context(), "devpilot")
				if err != nil {
					slog.Warn("otel init failed, falling back to basic /metrics", "error", err)
				} else {
					metricsHandler = h
					if err := otel.InitMetrics(cmd.Context()); err != nil {
						slog.Warn("otel instruments init failed", "error", err)
					}
				}
			}

			agents, err := buildAgents(cfg, home)
			if err != nil {
				return err
			}
			orch, err := pipeline.New(agents)
			if err != nil {
				return err
			}
			notifiers := notify.FromEnv()

			app, err := httpapi.NewApp(httpapi.ServerOptions{
				Home:           home,
				Addr:           addr,
				Dev:            dev,
				APIKey:         apiKey,
				DBDriver:       cfg.Store.Driver,
				DBURL:          cfg.Store.DSN,
				MetricsHandler: metricsHandler,
				UseOtelHTTP:    enableOtel && metricsHandler != nil,
				Runner: func(ctx context.Context, request string, emit func(agent.Event)) pipeline.Result {
					res := orch.Execute(ctx, request, emit)
					if !notifiers.Empty() && (res.RequiresApproval || !res.Success) {
						msg := fmt.Sprintf("devpilot run %s ended at %s: %s", res.Context.RunID, res.Stage, res.Message)
						if err := notifiers.Broadcast(ctx, msg); err != nil {
							slog.Warn("notify failed", "error", err)
						}
					}
					return res
				},
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("devpilot api listening", "addr", addr)
				errCh <- app.Server.ListenAndServe()
			}()

			select {
			case <-cmd.Context().Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := app.Server.Shutdown(shutdownCtx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "server stopped")
				return nil
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, 127.0.0.1:8099)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode (CORS for local tooling)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Require X-API-Key on API requests")
	cmd.Flags().BoolVar(&enableOtel, "otel", true, "Enable OpenTelemetry metrics (Prometheus exporter)")

	return cmd
}
