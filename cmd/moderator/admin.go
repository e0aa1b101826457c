package main

import (
	"fmt"
	"strings"
	"time"

	cli "github.com/urfave/cli/v2"

	"github.com/whisper/modguard/internal/modlog"
	"github.com/whisper/modguard/internal/strike"
	"github.com/whisper/modguard/internal/tagbag"
	"github.com/whisper/modguard/internal/trust"
)

var guildFlag = &cli.StringFlag{Name: "guild", Required: true}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "apply the moderation event archive schema",
	Action: func(cctx *cli.Context) error {
		dbURL := cctx.String("database-url")
		if dbURL == "" {
			return fmt.Errorf("--database-url is required")
		}
		if err := modlog.Migrate(dbURL); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var rolesCmd = &cli.Command{
	Name:  "roles",
	Usage: "manage the roles whose members bypass the gated rules",
	Subcommands: []*cli.Command{
		{
			Name:  "ls",
			Flags: []cli.Flag{guildFlag},
			Action: func(cctx *cli.Context) error {
				p, closeFn, err := roleProvider(cctx)
				if err != nil {
					return err
				}
				defer closeFn()
				roles, err := p.TrustedRoles(cctx.Context, cctx.String("guild"))
				if err != nil {
					return err
				}
				for _, r := range roles {
					fmt.Println(r)
				}
				return nil
			},
		},
		{
			Name:      "add",
			ArgsUsage: "<role>",
			Flags:     []cli.Flag{guildFlag},
			Action: func(cctx *cli.Context) error {
				p, closeFn, err := roleProvider(cctx)
				if err != nil {
					return err
				}
				defer closeFn()
				return p.AddTrustedRole(cctx.Context, cctx.String("guild"), cctx.Args().First())
			},
		},
		{
			Name:      "rm",
			ArgsUsage: "<role>",
			Flags:     []cli.Flag{guildFlag},
			Action: func(cctx *cli.Context) error {
				p, closeFn, err := roleProvider(cctx)
				if err != nil {
					return err
				}
				defer closeFn()
				return p.RemoveTrustedRole(cctx.Context, cctx.String("guild"), cctx.Args().First())
			},
		},
	},
}

// roleProvider edits trusted roles through the same Redis cache the daemon
// reads, so an edit purges the guild's cached role list.
func roleProvider(cctx *cli.Context) (*trust.CachedRoles, func() error, error) {
	rdb, err := requireRedis(cctx)
	if err != nil {
		return nil, nil, err
	}
	roles := trust.NewCachedRoles(
		trust.NewRoleStore(tagbag.NewRedisStore(rdb)),
		trust.NewRedisCacheStore(rdb, cctx.Duration("trust-cache-ttl")),
		nil)
	return roles, rdb.Close, nil
}

var webhookCmd = &cli.Command{
	Name:      "webhook",
	Usage:     "set or clear a guild's modlog webhook",
	ArgsUsage: "<url>",
	Flags: []cli.Flag{
		guildFlag,
		&cli.StringFlag{
			Name:  "kind",
			Usage: strings.Join([]string{tagbag.WebhookDefault, tagbag.WebhookSensible, tagbag.WebhookDelete, tagbag.WebhookPublic}, ", "),
			Value: tagbag.WebhookDefault,
		},
		&cli.BoolFlag{Name: "clear"},
	},
	Action: func(cctx *cli.Context) error {
		rdb, err := requireRedis(cctx)
		if err != nil {
			return err
		}
		defer rdb.Close()

		tag := tagbag.NewTag[string](tagbag.NewRedisStore(rdb), tagbag.WebhookTag(cctx.String("kind")))
		if cctx.Bool("clear") {
			return tag.Delete(cctx.Context, cctx.String("guild"))
		}
		url := cctx.Args().First()
		if !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("webhook url must be https")
		}
		return tag.Set(cctx.Context, cctx.String("guild"), url)
	},
}

var pardonCmd = &cli.Command{
	Name:      "pardon",
	Usage:     "clear a member's antispam strike",
	ArgsUsage: "<user-id>",
	Flags:     []cli.Flag{guildFlag},
	Action: func(cctx *cli.Context) error {
		rdb, err := requireRedis(cctx)
		if err != nil {
			return err
		}
		defer rdb.Close()

		key := trust.Actor{GuildID: cctx.String("guild"), ID: cctx.Args().First()}.Key()
		tracker := strike.NewTracker(strike.NewRedisStore(rdb), strike.DefaultConfig(), nil)
		st, err := tracker.State(cctx.Context, key)
		if err != nil {
			return err
		}
		if !st.Tripped() {
			fmt.Println("member has no active strike")
			return nil
		}
		if err := tracker.Pardon(cctx.Context, key); err != nil {
			return err
		}
		fmt.Printf("cleared %d offense(s), strike was due to expire %s\n", st.Count, st.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var modlogCmd = &cli.Command{
	Name:      "modlog",
	Usage:     "show archived moderation events for a member",
	ArgsUsage: "<user-id>",
	Flags: []cli.Flag{
		guildFlag,
		&cli.IntFlag{Name: "limit", Value: 20},
		&cli.DurationFlag{Name: "window", Value: 30 * 24 * time.Hour, Usage: "window for the per-kind counts"},
	},
	Action: func(cctx *cli.Context) error {
		dbURL := cctx.String("database-url")
		if dbURL == "" {
			return fmt.Errorf("--database-url is required")
		}
		db, err := modlog.Open(cctx.Context, dbURL)
		if err != nil {
			return err
		}
		defer db.Close()

		store := modlog.NewStore(db)
		guild, user := cctx.String("guild"), cctx.Args().First()
		events, err := store.RecentForUser(cctx.Context, guild, user, cctx.Int("limit"))
		if err != nil {
			return err
		}
		for _, e := range events {
			fmt.Printf("%s  %-6s %-9s %s\n", e.CreatedAt.Format(time.RFC3339), e.Kind, e.Source, e.Reason)
		}

		for _, kind := range []modlog.Kind{modlog.KindDelete, modlog.KindMute, modlog.KindWarn, modlog.KindKick, modlog.KindBan} {
			n, err := store.CountRecent(cctx.Context, guild, user, kind, cctx.Duration("window"))
			if err != nil {
				return err
			}
			if n > 0 {
				fmt.Printf("%s: %d\n", kind, n)
			}
		}
		return nil
	},
}
