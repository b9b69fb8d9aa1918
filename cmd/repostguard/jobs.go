package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs <guild-id>",
	Short: "Show recent scan and catch-up jobs",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		if err := showJobs(cmd, args[0], limit); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	jobsCmd.Flags().Int("limit", 10, "Maximum jobs to show")
	rootCmd.AddCommand(jobsCmd)
}

func showJobs(cmd *cobra.Command, guildID string, limit int) error {
	audit, err := openAudit(cmd)
	if err != nil {
		return fmt.Errorf("failed to open audit database: %w", err)
	}
	defer audit.Close()

	summaries, err := audit.GetJobSummaries(cmd.Context(), guildID, limit)
	if err != nil {
		return fmt.Errorf("failed to query job summaries: %w", err)
	}
	if len(summaries) == 0 {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("%s\n", gray("No jobs recorded"))
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack)

	for _, s := range summaries {
		icon := green("✓")
		status := "complete"
		switch {
		case s.Error != "":
			icon = red("✗")
			status = "failed: " + s.Error
		case s.Canceled:
			icon = yellow("⚠")
			status = "cancelled"
		}
		duration := s.FinishedAt.Sub(s.StartedAt).Round(time.Second)
		fmt.Printf("%s %s %s (%s, %s)\n",
			icon, s.FinishedAt.Format("2006-01-02 15:04:05"), s.Kind, status, duration)

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
		if s.Partition != "" {
			if line != "" {
				line += " | "
			}
			line += "partition " + s.Partition
		}
		if line != "" {
			fmt.Printf("  %s\n", gray.Sprint(line))
		}
	}
	return nil
}
