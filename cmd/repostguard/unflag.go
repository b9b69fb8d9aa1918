package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repostguard/repostguard/internal/coordinator"
	"github.com/repostguard/repostguard/internal/gateway/discord"
	"github.com/repostguard/repostguard/internal/guard"
	"github.com/repostguard/repostguard/internal/storage"
)

var unflagCmd = &cobra.Command{
	Use:   "unflag <guild-id> <channel-id>",
	Short: "Remove the bot's duplicate reactions from a channel",
	Long: `Remove the bot's flag reactions from every message it previously
flagged in the channel, using the audit trail to find them. Useful after
loosening a community's similarity threshold or clearing its store.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := unflagChannel(args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(unflagCmd)
}

func unflagChannel(guildID, channelID string) error {
	if err := requireToken(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policies, err := openPolicies()
	if err != nil {
		return err
	}
	audit, err := storage.NewStorage(ctx, &storage.Config{Path: cfg.DatabasePath})
	if err != nil {
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	defer audit.Close()

	bot, err := discord.New(cfg.Token, &lateHandler{})
	if err != nil {
		return err
	}
	session := bot.Session()

	g, err := guard.New(guard.Deps{
		Config:   cfg,
		Policies: policies,
		Audit:    audit,
		History:  discord.NewHistory(session),
		Actions:  discord.NewActions(session),
		Fetcher:  discord.NewFetcher(),
		Sinks: func(string) coordinator.SinkFactory {
			return func(context.Context) (coordinator.ReportSink, error) {
				return terminalSink{}, nil
			}
		},
	})
	if err != nil {
		return err
	}

	jobID, err := g.ClearFlags(ctx, guildID, channelID, channelID)
	if err != nil {
		return err
	}
	fmt.Printf("Started flag clear %s for channel %s\n", jobID, channelID)

	done := make(chan struct{})
	go func() {
		g.Coordinator().Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		g.CancelJob(guildID, channelID)
		<-done
	case <-done:
	}
	return nil
}
