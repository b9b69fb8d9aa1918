package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and edit a community's hash store",
	Long: `Work with the local hash document of a community. These commands read
and write the data directory directly; the bot does not need to be running,
but avoid editing a store while a scan of the same community is active.`,
}

var storeShowCmd = &cobra.Command{
	Use:   "show <guild-id>",
	Short: "Show hash store statistics",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := showStore(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "remove <guild-id> <message-id>",
	Short: "Remove every record a message produced",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := removeFromStore(args[0], args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var storeClearCmd = &cobra.Command{
	Use:   "clear <guild-id> [channel-id]",
	Short: "Clear the hash store, or one channel partition",
	Long: `Remove all stored fingerprints for the community. With a channel ID,
only that channel's partition is cleared (meaningful for communities using
per-channel matching scope).`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		partition := ""
		if len(args) == 2 {
			partition = args[1]
		}
		if err := clearStore(args[0], partition); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	storeCmd.AddCommand(storeShowCmd)
	storeCmd.AddCommand(storeRemoveCmd)
	storeCmd.AddCommand(storeClearCmd)
	rootCmd.AddCommand(storeCmd)
}

func showStore(guildID string) error {
	store, err := openHashStore(guildID)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("=== Hash store for guild "+guildID+" ==="))

	if store.Len() == 0 {
		fmt.Printf("  %s\n\n", gray("No records"))
		return nil
	}

	snapshot := store.Snapshot()
	partitions := make([]string, 0, len(snapshot))
	for p := range snapshot {
		partitions = append(partitions, p)
	}
	sort.Strings(partitions)

	for _, p := range partitions {
		records := snapshot[p]
		name := p
		if name == "" {
			name = "(server-wide)"
		}
		unknownAuthor := 0
		undated := 0
		for _, r := range records {
			if r.AuthorID == "" {
				unknownAuthor++
			}
			if !r.HasPostedAt() {
				undated++
			}
		}
		fmt.Printf("  %s: %d records", name, len(records))
		if unknownAuthor > 0 || undated > 0 {
			fmt.Printf(" %s", gray(fmt.Sprintf("(%d unknown author, %d undated)", unknownAuthor, undated)))
		}
		fmt.Println()
	}
	fmt.Printf("\n  Total: %d\n\n", store.Len())
	return nil
}

func removeFromStore(guildID, messageID string) error {
	store, err := openHashStore(guildID)
	if err != nil {
		return err
	}
	n := store.RemoveMessage(messageID)
	if n == 0 {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s No records found for message %s\n", yellow("ℹ"), messageID)
		return nil
	}
	if err := store.Save(); err != nil {
		return fmt.Errorf("failed to save hash store: %w", err)
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Removed %d record(s) for message %s\n", green("✓"), n, messageID)
	return nil
}

func clearStore(guildID, partition string) error {
	store, err := openHashStore(guildID)
	if err != nil {
		return err
	}
	var removed int
	if partition == "" {
		removed = store.Clear()
	} else {
		removed = store.ClearPartition(partition)
	}
	if err := store.Save(); err != nil {
		return fmt.Errorf("failed to save hash store: %w", err)
	}
	green := color.New(color.FgGreen).SprintFunc()
	if partition == "" {
		fmt.Printf("%s Cleared %d record(s) for guild %s\n", green("✓"), removed, guildID)
	} else {
		fmt.Printf("%s Cleared %d record(s) from partition %s\n", green("✓"), removed, partition)
	}
	return nil
}
