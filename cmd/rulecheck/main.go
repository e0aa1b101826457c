// Command rulecheck classifies text against a rules file, one message per
// line, so rule edits can be tried before a deploy.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"

	"github.com/whisper/modguard/internal/moderation"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:      "rulecheck",
		Usage:     "classify messages against the antispam rules",
		ArgsUsage: "[text...]",
		Version:   versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rules",
				Usage:   "rules file; the embedded defaults are used when empty",
				EnvVars: []string{"RULES_FILE"},
			},
			&cli.BoolFlag{
				Name:  "links",
				Usage: "also print the links found in each message",
			},
		},
		Action: func(cctx *cli.Context) error {
			rules := moderation.DefaultRules()
			if path := cctx.String("rules"); path != "" {
				var err error
				if rules, err = moderation.LoadRulesFile(path); err != nil {
					return err
				}
			}

			c := checker{rules: rules, out: cctx.App.Writer, links: cctx.Bool("links")}
			if cctx.Args().Present() {
				c.check(strings.Join(cctx.Args().Slice(), " "))
				return nil
			}
			return c.checkAll(os.Stdin)
		},
	}
	return app.Run(args)
}

type checker struct {
	rules *moderation.Rules
	out   io.Writer
	links bool
}

func (c checker) checkAll(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			c.check(line)
		}
	}
	return scanner.Err()
}

func (c checker) check(text string) {
	fmt.Fprintf(c.out, "%-40s %s\n", c.verdict(text), text)
	if c.links {
		for _, l := range moderation.ExtractLinks(moderation.Normalize(text)) {
			fmt.Fprintf(c.out, "  link: %s\n", l)
		}
	}
}

// verdict mirrors the pipeline order: universal rules first, then gated.
func (c checker) verdict(text string) string {
	if c.rules.Universal != nil {
		if category, ok := c.rules.Universal.Classify(text); ok {
			return "universal: " + category
		}
	}
	v := c.rules.Gated.Inspect(text)
	switch {
	case v.Matched:
		return "gated: " + v.Category
	case v.HasLink:
		return "link"
	}
	return "clean"
}
