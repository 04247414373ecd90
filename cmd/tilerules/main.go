package main

import (
	"io"
	"log"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"
)

const defaultRules = "configs/tile_rules.json"

func newLogger(c *cli.Context) *log.Logger {
	logger := log.New(io.Discard, "[tilerules] ", log.LstdFlags|log.Lmicroseconds)
	if c.Bool("verbose") {
		logger.SetOutput(os.Stderr)
	}
	return logger
}

func main() {
	app := cli.NewApp()

	app.Name = "tilerules"
	app.Usage = "Validate tile rules and resolve sprite variants offline"
	app.Version = "1.0.0"

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "rules",
			EnvVars: []string{"TF_RULES"},
			Value:   defaultRules,
			Usage:   "path to the tile rules document (.json, .yaml)",
		},
		&cli.StringFlag{
			Name:    "db",
			EnvVars: []string{"TF_DB"},
			Usage:   "sqlite index to record catalogs and bakes in (optional)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase verbosity",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:      "check",
			Usage:     "Validate a tile rules document",
			ArgsUsage: "[RULES]",
			Action: func(c *cli.Context) error {
				path := c.String("rules")
				if c.NArg() > 0 {
					path = c.Args().First()
				}
				if err := runCheck(c.Context, c.App.Writer, path, c.String("db")); err != nil {
					return cli.Exit(err, 1)
				}
				return nil
			},
		},
		{
			Name:      "resolve",
			Usage:     "Resolve the sprite variant of one cell",
			ArgsUsage: "GRID X Y",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "state",
					Value: -1,
					Usage: "multi_state state (default: the state stored in the grid)",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 3 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				x, err := strconv.Atoi(c.Args().Get(1))
				if err != nil {
					return cli.Exit("bad X: "+err.Error(), 2)
				}
				y, err := strconv.Atoi(c.Args().Get(2))
				if err != nil {
					return cli.Exit("bad Y: "+err.Error(), 2)
				}
				if err := runResolve(c.App.Writer, c.String("rules"), c.Args().First(), x, y, c.Int("state")); err != nil {
					return cli.Exit(err, 1)
				}
				return nil
			},
		},
		{
			Name:      "import",
			Usage:     "Convert a YAML grid layout into a grid snapshot",
			ArgsUsage: "LAYOUT",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "out",
					Aliases: []string{"o"},
					Usage:   "output path (default: LAYOUT with .grid.zst)",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				if err := runImport(c.App.Writer, c.Args().First(), c.String("out")); err != nil {
					return cli.Exit(err, 1)
				}
				return nil
			},
		},
		{
			Name:      "bake",
			Usage:     "Resolve every cell of a grid into a plan file",
			ArgsUsage: "GRID",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "out",
					Aliases: []string{"o"},
					Usage:   "plan output path (default: GRID with .plan.jsonl.zst)",
				},
				&cli.IntFlag{
					Name:    "workers",
					EnvVars: []string{"TF_BAKE_WORKERS"},
					Usage:   "resolver workers (0 = GOMAXPROCS)",
				},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
				}
				err := runBake(c.Context, c.App.Writer, bakeArgs{
					Rules:   c.String("rules"),
					Grid:    c.Args().First(),
					Out:     c.String("out"),
					DB:      c.String("db"),
					Workers: c.Int("workers"),
				}, newLogger(c))
				if err != nil {
					return cli.Exit(err, 1)
				}
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
