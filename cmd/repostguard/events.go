package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/repostguard/repostguard/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events <guild-id>",
	Short: "Show recent moderation events",
	Long: `List the community's recent audit events: duplicates flagged, actions
taken, records superseded, jobs run.

Example:
  $ repostguard events 814903834232649 --type duplicate_flagged --limit 10`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		eventType, _ := cmd.Flags().GetString("type")
		channelID, _ := cmd.Flags().GetString("channel")
		if err := showEvents(cmd, args[0], channelID, eventType, limit); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	eventsCmd.Flags().Int("limit", 20, "Maximum events to show")
	eventsCmd.Flags().String("type", "", "Filter by event type (e.g. duplicate_flagged)")
	eventsCmd.Flags().String("channel", "", "Filter by channel ID")
	rootCmd.AddCommand(eventsCmd)
}

func showEvents(cmd *cobra.Command, guildID, channelID, eventType string, limit int) error {
	audit, err := openAudit(cmd)
	if err != nil {
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	defer audit.Close()

	list, err := audit.GetEvents(cmd.Context(), events.Filter{
		CommunityID: guildID,
		ChannelID:   channelID,
		Type:        events.EventType(eventType),
		Limit:       limit,
	})
	if err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}

	if len(list) == 0 {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("%s\n", gray("No events found"))
		return nil
	}
	for _, e := range list {
		displayEvent(e)
	}
	return nil
}

// displayEvent prints one audit event: severity icon, timestamp, type, and
// message, with a gray detail line when the event concerns a message.
func displayEvent(e *events.Event) {
	typeColor := color.New(color.FgMagenta)
	fmt.Printf("%s [%s] %s: %s\n",
		severityIcon(e.Severity),
		e.Timestamp.Format("2006-01-02 15:04:05"),
		typeColor.Sprint(string(e.Type)),
		severityColor(e.Severity).Sprint(e.Message),
	)

	detail := ""
	if e.ChannelID != "" {
		detail += "channel " + e.ChannelID
	}
	if e.MessageID != "" {
		if detail != "" {
			detail += " | "
		}
		detail += "message " + e.MessageID
	}
	if e.AuthorID != "" {
		if detail != "" {
			detail += " | "
		}
		detail += "author " + e.AuthorID
	}
	if detail != "" {
		gray := color.New(color.FgHiBlack)
		fmt.Printf("  %s\n", gray.Sprint(detail))
	}
}

func severityIcon(s events.Severity) string {
	switch s {
	case events.SeverityWarning:
		return "⚠️"
	case events.SeverityError:
		return "❌"
	default:
		return "ℹ️"
	}
}

func severityColor(s events.Severity) *color.Color {
	switch s {
	case events.SeverityWarning:
		return color.New(color.FgYellow)
	case events.SeverityError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}
