package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/repostguard/repostguard/internal/coordinator"
	"github.com/repostguard/repostguard/internal/gateway"
	"github.com/repostguard/repostguard/internal/gateway/discord"
	"github.com/repostguard/repostguard/internal/guard"
	"github.com/repostguard/repostguard/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the moderation bot",
	Long: `Connect to Discord and moderate image reposts in every community the
bot is a member of.

On startup, communities that enabled catch-up have their missed messages
reconciled into the hash store (no moderation actions are applied to old
messages). The bot then watches live messages until interrupted.

Example:
  $ repostguard run
  ✓ repostguard is running (data: data)`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runBot(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// lateHandler lets the Discord session be created before the guard that
// handles its events. Events arriving before the guard is set are dropped;
// the session is not opened until after Set, so none should.
type lateHandler struct {
	mu    sync.RWMutex
	inner gateway.EventHandler
}

func (h *lateHandler) Set(inner gateway.EventHandler) {
	h.mu.Lock()
	h.inner = inner
	h.mu.Unlock()
}

func (h *lateHandler) HandleMessage(ctx context.Context, msg gateway.Message) {
	h.mu.RLock()
	inner := h.inner
	h.mu.RUnlock()
	if inner != nil {
		inner.HandleMessage(ctx, msg)
	}
}

func (h *lateHandler) HandleMessageDelete(ctx context.Context, communityID, channelID, messageID string) {
	h.mu.RLock()
	inner := h.inner
	h.mu.RUnlock()
	if inner != nil {
		inner.HandleMessageDelete(ctx, communityID, channelID, messageID)
	}
}

func runBot() error {
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

	proxy := &lateHandler{}
	bot, err := discord.New(cfg.Token, proxy)
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
		Sinks: func(requestChannelID string) coordinator.SinkFactory {
			return discord.NewStatusSinkFactory(session, requestChannelID)
		},
	})
	if err != nil {
		return err
	}
	proxy.Set(g)

	if err := bot.Open(); err != nil {
		return err
	}
	defer bot.Close()

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s repostguard is running (data: %s)\n", green("✓"), cfg.DataDir)
	fmt.Println("Press Ctrl+C to stop")

	go g.CatchUpAll(ctx)
	go runEventCleanup(ctx, audit)

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	g.Shutdown()
	fmt.Printf("%s Stopped\n", green("✓"))
	return nil
}

// runEventCleanup periodically prunes old audit events per the retention
// configuration.
func runEventCleanup(ctx context.Context, audit storage.Storage) {
	rc := cfg.EventRetention
	if !rc.CleanupEnabled {
		return
	}
	ticker := time.NewTicker(time.Duration(rc.CleanupIntervalHours) * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := audit.CleanupEventsByAge(ctx, rc.RetentionDays, rc.CleanupBatchSize)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: audit event cleanup failed: %v\n", err)
				continue
			}
			if n > 0 {
				fmt.Printf("Cleaned up %d audit events older than %d days\n", n, rc.RetentionDays)
			}
		}
	}
}
