package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/chatrelay/app"
	"github.com/cyberinferno/chatrelay/config"
	"github.com/cyberinferno/chatrelay/logger"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		maxClients int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader(configPath, nil)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("max-clients") {
				cfg.MaxClients = maxClients
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := app.NewLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer log.Close()
			loader.SetLogger(log)

			relay, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}

			loader.Watch(func(next config.Config) {
				if cmd.Flags().Changed("max-clients") {
					next.MaxClients = cfg.MaxClients
				}
				relay.ApplyConfig(next)
			})

			log.Info("starting chat relay",
				logger.Field{Key: "addr", Value: cfg.Addr},
				logger.Field{Key: "max_clients", Value: cfg.MaxClients},
				logger.Field{Key: "config", Value: loader.Path()},
			)

			if err := relay.Run(cmd.Context()); err != nil {
				log.Error("relay exited with error", logger.Err(err))
				return err
			}

			log.Info("relay stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default $CHATRELAY_CONFIG or ./chatrelay.yaml)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config file")
	cmd.Flags().IntVar(&maxClients, "max-clients", 0, "maximum concurrent clients, overrides the config file")

	return cmd
}
