package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/dashboard"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/gateway"
	discordgw "github.com/zulandar/switchboard/internal/gateway/discord"
	slackgw "github.com/zulandar/switchboard/internal/gateway/slack"
	"github.com/zulandar/switchboard/internal/helpdesk"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the help desk daemon",
		Long:  "Connects to the configured chat platform, migrates the history database and routes questions until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	gw, err := newGateway(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	desk, err := helpdesk.NewDesk(helpdesk.DeskOpts{Config: cfg, DB: gormDB, Gateway: gw, Out: out})
	if err != nil {
		return err
	}
	daemon, err := helpdesk.NewDaemon(helpdesk.DaemonOpts{Desk: desk, Gateway: gw, Out: out})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if cfg.Dashboard.Enabled {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				Source:  desk,
				History: desk.History,
				Port:    cfg.Dashboard.Port,
				Out:     out,
			})
			if err != nil {
				log.Printf("sb: %v", err)
			}
		}()
	}

	return daemon.Run(ctx)
}

// newGateway builds a platform adapter from the config.
func newGateway(cfg *config.Config) (gateway.Gateway, error) {
	switch cfg.Platform {
	case "discord":
		return discordgw.New(discordgw.AdapterOpts{
			BotToken:       cfg.Discord.BotToken,
			ForumChannelID: cfg.Discord.ForumChannelID,
			Tags:           cfg.Discord.Tags,
		})
	case "slack":
		return slackgw.New(slackgw.AdapterOpts{
			AppToken:         cfg.Slack.AppToken,
			BotToken:         cfg.Slack.BotToken,
			SupportChannelID: cfg.Slack.SupportChannelID,
			Emoji:            cfg.Slack.Emoji,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}
