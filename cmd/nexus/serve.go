package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itou-labs/nexus-sync/internal/config"
	"github.com/itou-labs/nexus-sync/internal/logging"
	"github.com/itou-labs/nexus-sync/internal/nexus/fullsync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "admin",
	Short:   "Serve metrics, health checks and a full-sync trigger",
	Long: `Run an HTTP server exposing:
  GET  /metrics    Prometheus metrics (remote call counts and latencies)
  GET  /live       liveness check
  GET  /ready      readiness check (database reachable)
  POST /full-sync  run a full sync and return its report
  GET  /session/dropdown
                   services dropdown of the user named by X-Remote-User;
                   an auto_login query parameter on any /session URL starts
                   the auto-login flow (requires token.key)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		health := healthcheck.NewMetricsHandler(prometheus.DefaultRegisterer, "nexus")
		health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(100))
		health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(a.store.RawDB(), time.Second))

		sess, err := a.session(cfg)
		if err != nil {
			return err
		}

		// --log-level pins the level; otherwise follow log.level in the file.
		if cfg.File != "" && logLevel == "" {
			if err := config.Watch(cfg.File, reloadLogLevel); err != nil {
				return err
			}
		}

		srv := &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: newRouter(a.orchestrator(), health, sess),
		}

		errc := make(chan error, 1)
		go func() {
			zap.S().Infow("Serving", "addr", srv.Addr)
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-cmd.Context().Done():
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

func reloadLogLevel(next *config.Config) {
	if err := logging.SetLevel(next.Log.Level); err != nil {
		zap.S().Warnw("Ignoring log level change", "level", next.Log.Level, "error", err)
		return
	}
	zap.S().Infow("Log level reloaded", "level", next.Log.Level)
}

// syncRunner is the part of the orchestrator the server needs.
type syncRunner interface {
	Run(ctx context.Context) (fullsync.Report, error)
}

// newRouter builds the server routes. sess may be nil.
func newRouter(runner syncRunner, health healthcheck.Handler, sess *session) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/live", gin.WrapF(health.LiveEndpoint))
	router.GET("/ready", gin.WrapF(health.ReadyEndpoint))

	var running sync.Mutex
	router.POST("/full-sync", func(c *gin.Context) {
		if !running.TryLock() {
			c.JSON(http.StatusConflict, gin.H{"error": "a full sync is already running"})
			return
		}
		defer running.Unlock()

		report, err := runner.Run(c.Request.Context())
		body := gin.H{
			"run_id":  report.RunID,
			"skipped": report.Skipped,
			"state":   report.State,
			"counts":  report.Counts,
		}
		if err != nil {
			body["error"] = err.Error()
			c.JSON(http.StatusBadGateway, body)
			return
		}
		c.JSON(http.StatusOK, body)
	})

	if sess != nil {
		sess.mount(router)
	}
	return router
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
