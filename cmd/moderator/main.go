package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whisper/modguard/internal/antispam"
	"github.com/whisper/modguard/internal/dispatch"
	"github.com/whisper/modguard/internal/history"
	"github.com/whisper/modguard/internal/messaging"
	"github.com/whisper/modguard/internal/moderation"
	"github.com/whisper/modguard/internal/modlog"
	"github.com/whisper/modguard/internal/notify"
	"github.com/whisper/modguard/internal/ratelimit"
	"github.com/whisper/modguard/internal/report"
	"github.com/whisper/modguard/internal/strike"
	"github.com/whisper/modguard/internal/tagbag"
	"github.com/whisper/modguard/internal/trust"
	"github.com/whisper/modguard/internal/ws"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "moderator",
		Usage:   "chat moderation daemon: antispam pipeline and moderator report console",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "json or console",
			Value:   "json",
			EnvVars: []string{"LOG_FORMAT"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for strikes, settings and rate limits; empty keeps state in memory",
			EnvVars: []string{"REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "PostgreSQL URL for the moderation event archive; empty disables archiving",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.DurationFlag{
			Name:    "trust-cache-ttl",
			Usage:   "how long a guild's trusted role list is cached",
			Value:   5 * time.Minute,
			EnvVars: []string{"TRUST_CACHE_TTL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		migrateCmd,
		rolesCmd,
		webhookCmd,
		pardonCmd,
		modlogCmd,
	}

	return app.Run(args)
}

func newLogger(cctx *cli.Context) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cctx.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if cctx.String("log-format") == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	return cfg.Build()
}

func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

// requireRedis connects to the configured Redis for admin commands, which
// have nothing to act on without shared state.
func requireRedis(cctx *cli.Context) (*redis.Client, error) {
	addr := cctx.String("redis-addr")
	if addr == "" {
		return nil, errors.New("--redis-addr is required")
	}
	return connectRedis(cctx.Context, addr)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "nats-url",
			Value:   messaging.DefaultNATSConfig().URL,
			EnvVars: []string{"NATS_URL"},
		},
		&cli.StringFlag{
			Name:    "nats-queue",
			Usage:   "queue group shared by moderator replicas",
			Value:   antispam.DefaultIntakeConfig().Queue,
			EnvVars: []string{"NATS_QUEUE"},
		},
		&cli.StringFlag{
			Name:    "listen-addr",
			Usage:   "address for the moderator console, /health and /metrics",
			Value:   ws.DefaultServerConfig().ListenAddr,
			EnvVars: []string{"LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:    "rules",
			Usage:   "rules file; the embedded defaults are used when empty",
			EnvVars: []string{"RULES_FILE"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "max moderation requests processed concurrently",
			Value:   antispam.DefaultIntakeConfig().Workers,
			EnvVars: []string{"MODERATION_WORKERS"},
		},
		&cli.DurationFlag{
			Name:    "strike-window",
			Value:   strike.DefaultConfig().Window,
			EnvVars: []string{"STRIKE_WINDOW"},
		},
		&cli.StringFlag{
			Name:    "repeat-policy",
			Usage:   "third and later offenses inside the window: repeat, extend or escalate",
			Value:   string(strike.DefaultConfig().Policy),
			EnvVars: []string{"REPEAT_POLICY"},
		},
		&cli.IntFlag{
			Name:    "escalate-at",
			Usage:   "offense number that is kicked under the escalate policy",
			Value:   strike.DefaultConfig().EscalateAt,
			EnvVars: []string{"ESCALATE_AT"},
		},
		&cli.DurationFlag{
			Name:    "report-idle-timeout",
			Value:   report.DefaultManagerConfig().IdleTimeout,
			EnvVars: []string{"REPORT_IDLE_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "report-policy",
			Usage:   "how a report with several selections becomes one event: first or harshest",
			Value:   "first",
			EnvVars: []string{"REPORT_POLICY"},
		},
		&cli.IntFlag{
			Name:    "history-size",
			Usage:   "messages per channel kept as report context",
			Value:   history.DefaultSize,
			EnvVars: []string{"HISTORY_SIZE"},
		},
		&cli.IntFlag{
			Name:    "webhook-retries",
			Value:   3,
			EnvVars: []string{"WEBHOOK_RETRIES"},
		},
		&cli.DurationFlag{
			Name:    "webhook-timeout",
			Value:   10 * time.Second,
			EnvVars: []string{"WEBHOOK_TIMEOUT"},
		},
	},
	Action: runModerator,
}

func runModerator(cctx *cli.Context) error {
	logger, err := newLogger(cctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rules := moderation.DefaultRules()
	if path := cctx.String("rules"); path != "" {
		if rules, err = moderation.LoadRulesFile(path); err != nil {
			return err
		}
	}

	repeat, err := strike.ParseRepeatPolicy(cctx.String("repeat-policy"))
	if err != nil {
		return err
	}
	combine, ok := report.ParseCombinePolicy(cctx.String("report-policy"))
	if !ok {
		return fmt.Errorf("unknown report policy %q", cctx.String("report-policy"))
	}

	// State stores: Redis when configured, process memory otherwise.
	var (
		tags       tagbag.Store
		strikes    strike.Store
		trustCache trust.CacheStore
		limiter    ratelimit.Allower
		memStrikes *strike.MemStore
	)
	if addr := cctx.String("redis-addr"); addr != "" {
		rdb, err := connectRedis(ctx, addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		tags = tagbag.NewRedisStore(rdb)
		strikes = strike.NewRedisStore(rdb)
		trustCache = trust.NewRedisCacheStore(rdb, cctx.Duration("trust-cache-ttl"))
		limiter = ratelimit.NewLimiter(rdb, logger)
	} else {
		logger.Warn("no redis configured, state is kept in memory and lost on restart")
		tags = tagbag.NewMemStore()
		memStrikes = strike.NewMemStore(nil)
		strikes = memStrikes
		trustCache = trust.NewMemCacheStore(10000, cctx.Duration("trust-cache-ttl"))
		limiter = ratelimit.NewMemLimiter(nil)
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cctx.String("nats-url")
	natsConfig.Name = "modguard-moderator"
	nc, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	// Executor boundary with optional archive and modlog webhooks.
	webhook := notify.NewModlogWebhook(tags,
		notify.NewHTTPClient(logger, cctx.Int("webhook-retries"), cctx.Duration("webhook-timeout")), logger)
	opts := []dispatch.Option{dispatch.WithWebhook(webhook)}
	if dbURL := cctx.String("database-url"); dbURL != "" {
		if err := modlog.Migrate(dbURL); err != nil {
			return err
		}
		db, err := modlog.Open(ctx, dbURL)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, dispatch.WithArchive(modlog.NewStore(db)))
	}
	dispatcher := dispatch.New(dispatch.NewBusExecutor(nc), logger, opts...)

	// Antispam pipeline.
	trustedRoles := trust.NewCachedRoles(trust.NewRoleStore(tags), trustCache, logger)
	gate := trust.NewGate(trust.NewRoleProvider(trustedRoles), logger)
	tracker := strike.NewTracker(strikes, strike.Config{
		Window:     cctx.Duration("strike-window"),
		Policy:     repeat,
		EscalateAt: cctx.Int("escalate-at"),
	}, logger)
	svc := antispam.NewService(rules, gate, tracker, notify.NewBusNoticeSender(nc), logger)

	hist := history.NewBuffer(cctx.Int("history-size"))
	intakeConfig := antispam.DefaultIntakeConfig()
	intakeConfig.Queue = cctx.String("nats-queue")
	intakeConfig.Workers = cctx.Int("workers")
	intake := antispam.NewIntake(svc, dispatcher, nc, hist, intakeConfig, logger)

	// Moderator console.
	reports := report.NewManager(report.ManagerConfig{
		IdleTimeout: cctx.Duration("report-idle-timeout"),
		Policy:      combine,
	}, nil, logger)
	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cctx.String("listen-addr")
	msgs := ws.NewMessageDispatcher(nil, logger)
	srv := ws.NewServer(serverConfig, limiter, msgs.Dispatch, logger)
	msgs.SetServer(srv)
	console := ws.NewConsole(srv, msgs, reports, hist, dispatcher, limiter, logger)

	logger.Info("moderator starting",
		zap.String("version", versioninfo.Short()),
		zap.String("nats_url", natsConfig.URL),
		zap.String("listen_addr", serverConfig.ListenAddr),
		zap.Strings("gated_categories", rules.Gated.Categories()),
		zap.String("repeat_policy", string(repeat)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return intake.Run(ctx, nc) })
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return console.RunReaper(ctx, time.Minute) })
	if memStrikes != nil {
		g.Go(func() error { return sweepStrikes(ctx, memStrikes, logger) })
	}

	err = g.Wait()
	logger.Info("moderator stopped")
	return err
}

func sweepStrikes(ctx context.Context, s *strike.MemStore, logger *zap.Logger) error {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logger.Debug("expired strikes swept", zap.Int("count", n))
			}
		}
	}
}
