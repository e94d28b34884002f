package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/andrwng/ducktape/agent"
	"github.com/andrwng/ducktape/config"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "ducktape-agent",
		Usage: "the node agent for running service commands on cluster nodes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML harness config.",
				Value: "ducktape.yaml",
			},
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "The address for the HTTP server to listen on. Overrides the config file.",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.Load(ctx.String("config"))
			if err != nil {
				return err
			}

			listenAddr := ctx.String("listen-addr")
			if listenAddr == "" {
				listenAddr = fmt.Sprintf("%s:%d", cfg.Agent.ListenAddr, cfg.Agent.Port)
			}

			level := zapcore.InfoLevel
			if cfg.LogLevel != "" {
				if err := level.Set(cfg.LogLevel); err != nil {
					return fmt.Errorf("parsing log level: %w", err)
				}
			}

			a, err := agent.New(
				agent.WithListenAddr(listenAddr),
				agent.WithLogLevel(level),
			)
			if err != nil {
				return fmt.Errorf("building agent: %w", err)
			}

			err = a.Run()
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
