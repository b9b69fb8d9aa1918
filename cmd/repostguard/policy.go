package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/repostguard/repostguard/internal/events"
	"github.com/repostguard/repostguard/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show and edit a community's moderation policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show <guild-id>",
	Short: "Show the community's policy",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := showPolicy(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set <guild-id> <setting> <value>",
	Short: "Change one policy setting",
	Long: `Change one policy setting and persist it. Invalid values are rejected
with the allowed range.

Settings:
  similarity_threshold  max Hamming distance treated as a match (0-20)
  hash_size             fingerprint detail level (4-32)
  scope                 server | channel
  check_mode            strict | owner_allowed
  max_age_days          match window in days, 0 = unlimited
  react                 true | false
  reply                 true | false
  delete                true | false
  emoji                 reaction emoji
  reply_template        reply body (see defaults for placeholders)
  log_channel           channel ID for duplicate notices, empty disables
  catchup               true | false (startup catch-up)
  catchup_limit         messages per channel the catch-up examines

Example:
  $ repostguard policy set 814903834232649 similarity_threshold 8`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		if err := setPolicy(cmd, args[0], args[1], args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policySetCmd)
	rootCmd.AddCommand(policyCmd)
}

func showPolicy(guildID string) error {
	policies, err := openPolicies()
	if err != nil {
		return err
	}
	p := policies.Get(guildID)

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("=== Policy for guild "+guildID+" ==="))
	fmt.Printf("  similarity_threshold: %d\n", p.SimilarityThreshold)
	fmt.Printf("  hash_size:            %d\n", p.HashSize)
	fmt.Printf("  scope:                %s\n", p.Scope)
	fmt.Printf("  check_mode:           %s\n", p.CheckMode)
	fmt.Printf("  max_age_days:         %d\n", p.MaxAgeDays)
	fmt.Printf("  react:                %t (%s)\n", p.ReactToDuplicates, p.ReactionEmoji)
	fmt.Printf("  reply:                %t\n", p.ReplyToDuplicates)
	fmt.Printf("  delete:               %t\n", p.DeleteDuplicates)
	fmt.Printf("  log_channel:          %s\n", orNone(p.LogChannelID))
	fmt.Printf("  catchup:              %t (limit %d per channel)\n", p.CatchUpOnStartup, p.CatchUpLimitPerChannel)
	fmt.Printf("  exempt_authors:       %s\n", orNone(strings.Join(p.ExemptAuthors, ", ")))
	fmt.Printf("  monitored_channels:   %s\n", orNone(strings.Join(p.MonitoredChannels, ", ")))
	fmt.Printf("\n  %s\n\n", gray("reply_template: "+p.ReplyTemplate))
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func setPolicy(cmd *cobra.Command, guildID, setting, value string) error {
	policies, err := openPolicies()
	if err != nil {
		return err
	}

	err = policies.Update(guildID, func(p *policy.Policy) error {
		switch setting {
		case "similarity_threshold":
			return setInt(value, &p.SimilarityThreshold)
		case "hash_size":
			return setInt(value, &p.HashSize)
		case "scope":
			p.Scope = policy.Scope(value)
		case "check_mode":
			p.CheckMode = policy.CheckMode(value)
		case "max_age_days":
			return setInt(value, &p.MaxAgeDays)
		case "react":
			return setBool(value, &p.ReactToDuplicates)
		case "reply":
			return setBool(value, &p.ReplyToDuplicates)
		case "delete":
			return setBool(value, &p.DeleteDuplicates)
		case "emoji":
			p.ReactionEmoji = value
		case "reply_template":
			p.ReplyTemplate = value
		case "log_channel":
			p.LogChannelID = value
		case "catchup":
			return setBool(value, &p.CatchUpOnStartup)
		case "catchup_limit":
			return setInt(value, &p.CatchUpLimitPerChannel)
		default:
			return fmt.Errorf("unknown setting %q (see 'repostguard policy set --help')", setting)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Best effort: the policy change itself already persisted.
	if audit, err := openAudit(cmd); err == nil {
		defer audit.Close()
		e := events.PolicyUpdated(guildID, "cli")
		e.Data["setting"] = setting
		e.Data["value"] = value
		if err := audit.StoreEvent(cmd.Context(), e); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to record policy change: %v\n", err)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Warning: failed to open audit database: %v\n", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Set %s = %s for guild %s\n", green("✓"), setting, value, guildID)
	return nil
}

func setInt(value string, dest *int) error {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("expected a number, got %q", value)
	}
	*dest = parsed
	return nil
}

func setBool(value string, dest *bool) error {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("expected true or false, got %q", value)
	}
	*dest = parsed
	return nil
}
