// Command forumlens scrapes a Discourse forum, analyses its topics with a
// language model and serves retrieval over forum, blog and video content.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/forumlens/pkg/config"
	"github.com/WessleyAI/forumlens/pkg/logging"
	"github.com/WessleyAI/forumlens/pkg/metrics"
	"github.com/WessleyAI/forumlens/pkg/tracing"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	var (
		envFile   string
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:           "forumlens",
		Short:         "Discourse scrape, analysis and retrieval pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			a.cfg = cfg
			a.log = logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
			a.reg = metrics.New()
			return a.startTelemetry(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	pf.StringVar(&logFormat, "log-format", "", "text or json (overrides LOG_FORMAT)")

	root.AddCommand(
		migrateCmd(a),
		scrapeCmd(a),
		analyzeCmd(a),
		ingestCmd(a),
		searchCmd(a),
		statsCmd(a),
		serveCmd(a),
	)
	return root
}

// startTelemetry installs tracing and, with METRICS_ADDR set, serves the
// registry and samples runtime gauges until ctx is done.
func (a *app) startTelemetry(ctx context.Context) error {
	t := a.cfg.Tracing
	shutdown, err := tracing.Init(ctx, tracing.Config{
		Enabled:     t.Enabled,
		ServiceName: "forumlens",
		Version:     version,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		Headers:     tracing.ParseHeaders(t.Headers),
		SampleRatio: t.SampleRatio,
		Stdout:      os.Stderr,
	}, a.log)
	if err != nil {
		return err
	}
	a.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			a.log.Warn("tracing shutdown", "err", err)
		}
	})

	if a.cfg.MetricsAddr != "" {
		go a.reg.CollectRuntime(ctx, "forumlens", 15*time.Second)
		go func() {
			if err := a.reg.Serve(ctx, a.cfg.MetricsAddr, a.log); err != nil {
				a.log.Error("metrics server", "err", err)
			}
		}()
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
