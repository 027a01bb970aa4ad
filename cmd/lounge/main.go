package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/config"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/opsauth"
)

func main() {
	// best-effort: without a .env file the real environment is used as is
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "lounge: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:  "lounge",
		Usage: "moderation and relay core of an anonymous group chat",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML config file",
				EnvVars: []string{"LOUNGE_CONFIG"},
			},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:  "serve",
			Usage: "run the core, its periodic sweeps and the operator API",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "memory",
					Usage: "keep users and settings in memory instead of the database",
				},
			},
			Action: runServe,
		},
		{
			Name:  "mint-token",
			Usage: "print a bearer token for the operator API",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "subject",
					Usage: "who the token is for",
					Value: "operator",
				},
				&cli.DurationFlag{
					Name:  "ttl",
					Usage: "how long the token stays valid",
					Value: 24 * time.Hour,
				},
			},
			Action: runMintToken,
		},
	}
	return app
}

func loadConfig(cctx *cli.Context) (*config.Config, error) {
	return config.Load(cctx.String("config"))
}

func runMintToken(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	if cfg.OpsTokenSecret == "" {
		return fmt.Errorf("ops_token_secret is not set")
	}
	issuer, err := opsauth.NewIssuer([]byte(cfg.OpsTokenSecret), clockwork.NewRealClock())
	if err != nil {
		return err
	}
	token, err := issuer.Issue(cctx.String("subject"), cctx.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cctx.App.Writer, token)
	return nil
}
