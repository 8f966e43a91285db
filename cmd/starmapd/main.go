package main

import (
	"fmt"
	"io"
	"log/slog"
	_ "net/http/pprof"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "starmapd",
		Usage:   "star map API daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string: sqlite://<path> or postgres://...",
			Value:   "sqlite://data/starmapd/starmap.sqlite",
			EnvVars: []string{"DATABASE_URL", "STARMAP_DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Usage:   "limit on size of database connection pool",
			Value:   40,
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL: redis://<user>:<pass>@<hostname>:6379/<db>; empty runs fully in-process",
			EnvVars: []string{"STARMAP_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"STARMAP_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the starmap API daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "Specify the local IP/port to bind to",
			Value:   ":8200",
			EnvVars: []string{"STARMAP_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":8201",
			EnvVars: []string{"STARMAP_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "cache-ttl",
			Usage:   "base TTL for cached entities",
			Value:   5 * time.Minute,
			EnvVars: []string{"STARMAP_CACHE_TTL"},
		},
		&cli.DurationFlag{
			Name:    "popular-cache-ttl",
			Usage:   "extended TTL for entities over the popularity threshold",
			Value:   30 * time.Minute,
			EnvVars: []string{"STARMAP_POPULAR_CACHE_TTL"},
		},
		&cli.IntFlag{
			Name:    "popularity-threshold",
			Usage:   "accesses within the window required to count as popular",
			Value:   5,
			EnvVars: []string{"STARMAP_POPULARITY_THRESHOLD"},
		},
		&cli.DurationFlag{
			Name:    "popularity-window",
			Usage:   "window over which popularity accesses are counted",
			Value:   time.Hour,
			EnvVars: []string{"STARMAP_POPULARITY_WINDOW"},
		},
		&cli.IntFlag{
			Name:    "rate-limit-times",
			Usage:   "requests allowed per client per window; zero disables admission",
			Value:   100,
			EnvVars: []string{"STARMAP_RATE_LIMIT_TIMES"},
		},
		&cli.DurationFlag{
			Name:    "rate-limit-window",
			Usage:   "admission window size",
			Value:   time.Minute,
			EnvVars: []string{"STARMAP_RATE_LIMIT_WINDOW"},
		},
		&cli.Int64Flag{
			Name:    "scan-limit",
			Usage:   "full-table scans allowed per minute, across all clients",
			Value:   600,
			EnvVars: []string{"STARMAP_SCAN_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "admin-api-key",
			Usage:   "key required on admin endpoints; unset disables them",
			EnvVars: []string{"STARMAP_ADMIN_API_KEY", "ADMIN_API_KEY"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := configLogger(cctx, os.Stdout)

		srv, err := NewServer(Config{
			Logger:              logger,
			Bind:                cctx.String("bind"),
			DatabaseURL:         cctx.String("database-url"),
			MaxDBConnections:    cctx.Int("max-db-connections"),
			RedisURL:            cctx.String("redis-url"),
			CacheTTL:            cctx.Duration("cache-ttl"),
			PopularCacheTTL:     cctx.Duration("popular-cache-ttl"),
			PopularityThreshold: cctx.Int("popularity-threshold"),
			PopularityWindow:    cctx.Duration("popularity-window"),
			RateLimitTimes:      cctx.Int("rate-limit-times"),
			RateLimitWindow:     cctx.Duration("rate-limit-window"),
			ScanLimit:           cctx.Int64("scan-limit"),
			AdminAPIKey:         cctx.String("admin-api-key"),
		})
		if err != nil {
			return fmt.Errorf("failed to construct server: %w", err)
		}

		// prometheus HTTP endpoint: /metrics
		go func() {
			runtime.SetBlockProfileRate(10)
			runtime.SetMutexProfileFraction(10)
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.RunAPI()
	},
}
