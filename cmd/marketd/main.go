// marketd is the cached market-data API: OHLCV payloads with indicators,
// incremental deltas, SSE streams and lightweight quotes, fed by a
// rate-limited vendor through a single-flight cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// Session math needs America/New_York even on hosts without a tz
	// database.
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/fadingview/marketd/internal/cache"
	"github.com/fadingview/marketd/internal/config"
	httpapi "github.com/fadingview/marketd/internal/interfaces/http"
	"github.com/fadingview/marketd/internal/news"
	"github.com/fadingview/marketd/internal/service"
	"github.com/fadingview/marketd/internal/upstream"
)

const (
	appName = "marketd"
	version = "v1.2.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Cached market-data API and stream server",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		flags := cmd.Flags()
		flags.SetNormalizeFunc(normalizeFlagName)
		flags.String("config", "", "Path to YAML config file")
		flags.String("addr", "", "Listen address (overrides config)")
		flags.String("log-level", "", "Log level: debug|info|warn|error")
	}
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	store := cache.New(clock)
	vendor := upstream.New(cfg.Upstream, clock)
	headlines := news.New(cfg.Upstream.NewsBaseURL, 8*time.Second)
	metrics := httpapi.NewMetricsRegistry()
	svc := service.New(cfg, clock, vendor, headlines, store, metrics)
	server := httpapi.NewServer(cfg, clock, svc, metrics)

	go svc.Run(ctx)

	log.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr).
		Bool("auth", cfg.Auth.Enabled).
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Msg("marketd starting")

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Info().Msg("marketd stopped")
	return nil
}

// normalizeFlagName accepts snake_case spellings for every flag.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = log.Output(os.Stderr)
	}
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
