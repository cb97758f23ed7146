// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// metrics_cmd.go - Prometheus endpoint for continuous monitoring (SI-4).
//
// "lexguard metrics serve" keeps the engines open, serves /metrics and
// /healthz, and optionally re-verifies the audit chain on a timer so a
// broken chain shows up in logs and alerts without an operator asking.
// With --watch-policy the role policy file is re-applied when it changes.
package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/lexguard/internal/metrics"
	"github.com/jeranaias/lexguard/internal/security/audit"
)

func newMetricsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Prometheus metrics endpoint (SI-4)",
	}
	cmd.AddCommand(newMetricsServeCmd(opts))
	return cmd
}

func newMetricsServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen         string
		verifyInterval time.Duration
		watchPolicy    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics and /healthz until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = opts.cfg.Metrics.Listen
			}
			policyPath := ""
			if watchPolicy {
				policyPath = opts.cfg.Authorization.PolicyPath
				if policyPath == "" {
					return NewValidationErrorWithExample("watch-policy", "true", "authorization.policy_path is not set",
						"lexguard config set authorization.policy_path /etc/lexguard/policy.yaml")
				}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.withApp(cmd, func(a *app) error {
				return serveMetrics(ctx, a, listen, verifyInterval, policyPath)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default metrics.listen)")
	cmd.Flags().DurationVar(&verifyInterval, "verify-interval", 0, "re-verify the audit chain this often (0 disables)")
	cmd.Flags().BoolVar(&watchPolicy, "watch-policy", false, "re-apply authorization.policy_path when it changes")
	return cmd
}

// newMetricsMux routes the metrics path and the health probe.
func newMetricsMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, metrics.Handler(a.registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.db.DB().PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// serveMetrics runs the HTTP server until ctx is done. A non-empty
// policyPath is watched and re-applied on change.
func serveMetrics(ctx context.Context, a *app, listen string, verifyInterval time.Duration, policyPath string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           newMetricsMux(a),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("SI-4: metrics endpoint listening",
			zap.String("addr", listen), zap.String("path", a.cfg.Metrics.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if verifyInterval > 0 {
		go verifyLoop(ctx, a.ledger, a.logger, verifyInterval)
	}
	if policyPath != "" {
		r, err := newPolicyReloader(policyPath, 500*time.Millisecond, applyPolicyFunc(a, policyPath), a.logger)
		if err != nil {
			return NewCommandError("metrics", "watch policy", policyPath, err)
		}
		go r.Run(ctx)
	}

	select {
	case err := <-errCh:
		if err != nil {
			return NewCommandError("metrics", "serve", listen, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return NewCommandError("metrics", "shutdown", listen, err)
	}
	a.logger.Info("SI-4: metrics endpoint stopped")
	return nil
}

// verifyLoop re-verifies the chain every interval until ctx is done.
// Failures are logged by the ledger itself.
func verifyLoop(ctx context.Context, ledger *audit.Ledger, logger *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := ledger.Verify(ctx)
			if err != nil {
				logger.Error("AU-9: audit chain verification could not run", zap.Error(err))
				continue
			}
			logger.Debug("AU-9: audit chain verified",
				zap.Bool("verified", report.Verified), zap.Int("entries", report.Entries))
		}
	}
}
