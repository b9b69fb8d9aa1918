package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/repostguard/repostguard/internal/coordinator"
	"github.com/repostguard/repostguard/internal/gateway/discord"
	"github.com/repostguard/repostguard/internal/guard"
	"github.com/repostguard/repostguard/internal/storage"
)

var scanCmd = &cobra.Command{
	Use:   "scan <guild-id> <channel-id>",
	Short: "Scan a channel's history for duplicate images",
	Long: `Walk a channel's message history oldest-first, record every image as an
original or flag it as a duplicate, and apply the community's configured
flag actions.

The scan uses the Discord REST API only; the bot does not need to be
running. Progress is printed to the terminal. Interrupting the scan
cancels it cleanly and keeps the records processed so far.

Example:
  $ repostguard scan 814903834232649 814903834232652
  ⏳ scan: 400/1000 messages
  ✓ scan complete
    flagged: 12 | inserted: 381 | scanned: 400`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		if err := scanChannel(args[0], args[1], limit); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	scanCmd.Flags().Int("limit", 0, "Maximum messages to scan (0 uses scan_limit from config)")
	rootCmd.AddCommand(scanCmd)
}

// terminalSink reports job progress on the terminal instead of a Discord
// status message.
type terminalSink struct{}

func (terminalSink) Update(_ context.Context, p coordinator.Progress) error {
	fmt.Printf("\r⏳ %s: %d", p.Kind, p.Processed)
	if p.Total > 0 {
		fmt.Printf("/%d", p.Total)
	}
	fmt.Print(" messages")
	return nil
}

func (terminalSink) Finalize(_ context.Context, s coordinator.Summary) error {
	fmt.Println()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	switch {
	case s.Err != nil:
		fmt.Printf("%s %s failed: %v\n", red("✗"), s.Kind, s.Err)
	case s.Canceled:
		fmt.Printf("%s %s cancelled\n", yellow("⚠"), s.Kind)
	default:
		fmt.Printf("%s %s complete\n", green("✓"), s.Kind)
	}

	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	line := ""
	for _, k := range keys {
		if line != "" {
			line += " | "
		}
		line += fmt.Sprintf("%s: %d", k, s.Counts[k])
	}
	if line != "" {
		fmt.Printf("  %s\n", line)
	}
	return nil
}

func scanChannel(guildID, channelID string, limit int) error {
	if err := requireToken(); err != nil {
		return err
	}
	if limit > 0 {
		cfg.ScanLimit = limit
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

	// REST-only session: history and actions work without opening the
	// gateway connection.
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

	jobID, err := g.ScanChannel(ctx, guildID, channelID, channelID)
	if err != nil {
		return err
	}
	fmt.Printf("Started scan %s of channel %s (limit %d)\n", jobID, channelID, cfg.ScanLimit)

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
