package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benaskins/keyring/internal/event"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var metricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the search list preferences for changes",
	Long:  "Watch the preference files for changes made by other processes and post list and default change notifications until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Optional address to serve Prometheus metrics on (e.g. 127.0.0.1:9464)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := openApp("watch", event.Func(func(e event.Event) {
		fmt.Printf("%s %s %s\n", e.Time.Local().Format(time.TimeOnly), e.Kind, e.Keychain)
	}))
	if err != nil {
		return err
	}
	defer a.close()

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	slog.Info("watching preferences", "dir", a.cfg.PreferencesPath(), "scope", a.manager.Scope())
	fmt.Printf("Watching %s (Ctrl-C to stop)\n", a.cfg.PreferencesPath())

	err = a.manager.WatchPreferences(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("watch stopped")
	return nil
}
