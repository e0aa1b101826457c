// Command loadgen publishes synthetic moderation requests onto the bus and
// measures how long the moderator takes to answer them.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/puzpuzpuz/xsync/v4"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/loadstats"
	"github.com/whisper/modguard/internal/messaging"
	"github.com/whisper/modguard/internal/moderation"
	"github.com/whisper/modguard/internal/modlog"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "loadgen",
		Usage:   "drive the antispam pipeline with synthetic chat traffic",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Value:   messaging.DefaultNATSConfig().URL,
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:  "metrics-url",
				Usage: "moderator /metrics endpoint to scrape; empty disables scraping",
				Value: "http://localhost:8080/metrics",
			},
			&cli.IntFlag{Name: "rate", Usage: "requests per second", Value: 200},
			&cli.DurationFlag{Name: "duration", Value: 30 * time.Second},
			&cli.IntFlag{Name: "guilds", Value: 10},
			&cli.IntFlag{Name: "users", Usage: "members per guild", Value: 100},
			&cli.Float64Flag{Name: "spam-ratio", Usage: "share of messages carrying a filtered link", Value: 0.05},
			&cli.DurationFlag{Name: "drain", Usage: "how long to wait for late answers", Value: 3 * time.Second},
		},
		Action: runLoad,
	}
	return app.Run(args)
}

var (
	cleanTexts = []string{
		"hello everyone",
		"anyone up for a match tonight?",
		"check the pinned message for the schedule",
		"gg wp",
	}
	spamTexts = []string{
		"join my server discord.gg/freestuff",
		"follow me instagram.com/totally.real.person",
		"read this docs.google.com/document/d/abc123",
		"get it on play.google.com/store/apps/details?id=com.example",
	}
)

type generator struct {
	guilds, users int
	spamRatio     float64
	seq           int
}

func (g *generator) next() moderation.ModerationRequest {
	g.seq++
	guild := rand.IntN(g.guilds)
	user := rand.IntN(g.users)
	text := cleanTexts[rand.IntN(len(cleanTexts))]
	if rand.Float64() < g.spamRatio {
		text = spamTexts[rand.IntN(len(spamTexts))]
	}
	return moderation.ModerationRequest{
		MessageID:  uuid.NewString(),
		ChannelID:  fmt.Sprintf("c%d-%d", guild, g.seq%4),
		GuildID:    fmt.Sprintf("g%d", guild),
		Text:       text,
		AuthorID:   fmt.Sprintf("u%d", user),
		AuthorName: fmt.Sprintf("user%d", user),
		Ts:         time.Now().UnixMilli(),
	}
}

func runLoad(cctx *cli.Context) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cctx.String("nats-url")
	natsConfig.Name = "modguard-loadgen"
	nc, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	collector := loadstats.NewCollector()
	if url := cctx.String("metrics-url"); url != "" {
		scraper := loadstats.NewScraper(url, 2*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	// Events arrive before the result for the same message, so only the
	// result handler forgets the send time.
	sentAt := xsync.NewMap[string, time.Time]()

	err = nc.SubscribeModEvents(func(data []byte) {
		var ev modlog.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			collector.AddError()
			return
		}
		if sent, ok := sentAt.Load(ev.TargetMessageID); ok {
			collector.AddLatency(string(ev.Kind), time.Since(sent))
		}
	})
	if err != nil {
		return err
	}
	err = nc.Subscribe(messaging.SubjectModerationResult+".>", func(msg *nats.Msg) {
		var res moderation.ModerationResult
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			collector.AddError()
			return
		}
		if sent, ok := sentAt.LoadAndDelete(res.MessageID); ok {
			collector.AddLatency("result", time.Since(sent))
		}
	})
	if err != nil {
		return err
	}

	rate := cctx.Int("rate")
	if rate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}
	gen := &generator{
		guilds:    max(cctx.Int("guilds"), 1),
		users:     max(cctx.Int("users"), 1),
		spamRatio: cctx.Float64("spam-ratio"),
	}

	fmt.Printf("Publishing %d req/s for %s to %s\n", rate, cctx.Duration("duration"), natsConfig.URL)

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	progress := time.NewTicker(time.Second)
	defer progress.Stop()
	deadline := time.NewTimer(cctx.Duration("duration"))
	defer deadline.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted.")
			break loop
		case <-deadline.C:
			break loop
		case <-progress.C:
			fmt.Printf("  sent: %d  blocked: %d  errors: %d\n",
				collector.SentCount(), collector.Count("result"), collector.ErrorCount())
		case <-ticker.C:
			req := gen.next()
			data, err := json.Marshal(req)
			if err != nil {
				collector.AddError()
				continue
			}
			sentAt.Store(req.MessageID, time.Now())
			if err := nc.PublishModerationRequest(data); err != nil {
				sentAt.Delete(req.MessageID)
				collector.AddError()
				continue
			}
			collector.AddSent()
		}
	}

	// Clean messages are never answered; wait a fixed time for the rest.
	select {
	case <-ctx.Done():
	case <-time.After(cctx.Duration("drain")):
	}

	collector.Report(os.Stdout)
	return nil
}
