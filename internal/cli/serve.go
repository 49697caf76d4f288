package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tabwarden/tabwarden/internal/channel"
	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/discard"
	"github.com/tabwarden/tabwarden/internal/retention"
	"github.com/tabwarden/tabwarden/internal/scheduler"
	"github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/tab"
	"github.com/tabwarden/tabwarden/internal/tracker"
)

// NewServeCommand creates the serve command: the long-running native-
// messaging host with the tracker loop, scheduler, and optional metrics
// endpoint.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the native-messaging host",
		Long: "Speaks the native-messaging protocol on stdin/stdout: the browser\n" +
			"extension delivers tab lifecycle events and UI actions, and executes\n" +
			"tab queries and discards on the host's behalf.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (empty disables)")

	return cmd
}

func runServe(opts *RootOptions, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prefs, err := config.LoadPrefs(opts.PrefsPath)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(opts.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("data directory unavailable", "dir", dir, "error", err)
		}
	}

	// The store connects lazily: telemetry being unavailable must not stop
	// the host. A failed first connect is logged and retried per-operation.
	st := store.New(opts.DBPath)
	if err := st.Connect(ctx); err != nil {
		slog.Warn("telemetry store unavailable at startup", "error", err)
	}
	defer st.Close()

	clock := tab.SystemClock()
	trk := tracker.New(st)

	reg := prometheus.NewRegistry()
	metrics := discard.InitMetrics("tabwarden", reg)

	// The connection doubles as the tab inventory and discard collaborator.
	var conn *channel.Conn
	evaluator := discard.New(
		connTabSource{&conn}, connDiscarder{&conn},
		st, prefs,
		discard.WithClock(clock),
		discard.WithMetrics(metrics),
		discard.WithSession(trk.SessionID),
	)
	sweeper := retention.New(st, clock)

	actions := channel.NewActions(prefs, st, evaluator, clock)
	conn = channel.New(os.Stdin, os.Stdout, actions, trk)

	sched := scheduler.New(prefs, clock,
		func(ctx context.Context) {
			if _, err := evaluator.RunPass(ctx); err != nil {
				slog.Error("discard pass failed", "error", err)
			}
		},
		func(ctx context.Context) {
			days := prefs.Settings().DataRetentionDays
			if _, err := sweeper.Purge(ctx, days); err != nil {
				slog.Error("retention sweep failed", "error", err)
			}
		},
	)
	actions.Reschedule = sched.Reschedule

	if metricsAddr != "" {
		go serveMetrics(ctx, metricsAddr, reg)
	}

	trackerDone := make(chan error, 1)
	go func() { trackerDone <- trk.Run(ctx) }()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	// The serve loop owns the process lifetime: it ends when the browser
	// closes the pipe or the process is signalled.
	err = conn.Serve(ctx)

	stop()
	trk.Stop()
	<-trackerDone
	evaluator.Wait()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server failed", "error", err)
	}
}

// connTabSource and connDiscarder defer dereferencing the connection until
// call time, breaking the construction cycle between the evaluator (which
// needs the connection) and the action dispatcher (which needs the
// evaluator and is itself wired into the connection).
type connTabSource struct{ conn **channel.Conn }

func (c connTabSource) QueryTabs(ctx context.Context) ([]tab.Tab, error) {
	return (*c.conn).QueryTabs(ctx)
}

type connDiscarder struct{ conn **channel.Conn }

func (c connDiscarder) Discard(ctx context.Context, tabID int) error {
	return (*c.conn).Discard(ctx, tabID)
}
