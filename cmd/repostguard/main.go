package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/repostguard/repostguard/internal/config"
	"github.com/repostguard/repostguard/internal/hashstore"
	"github.com/repostguard/repostguard/internal/policy"
	"github.com/repostguard/repostguard/internal/storage"
)

var (
	cfgPath string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "repostguard",
	Short: "Duplicate image detection and moderation for Discord communities",
	Long: `repostguard fingerprints every image posted in the communities it serves
and flags near-duplicate reposts according to each community's policy.

Run 'repostguard run' to start the bot. The store and events commands work
offline against the local data directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "repostguard.yaml", "Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openPolicies loads the policy document from the data directory, printing
// any corruption warnings but never failing on them.
func openPolicies() (*policy.Store, error) {
	policies, warnings, err := policy.NewStore(filepath.Join(cfg.DataDir, "policies.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to open policy store: %w", err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	return policies, nil
}

// openAudit opens the audit database at the configured path.
func openAudit(cmd *cobra.Command) (storage.Storage, error) {
	return storage.NewStorage(cmd.Context(), &storage.Config{Path: cfg.DatabasePath})
}

// openHashStore loads a community's hash document, printing corruption
// warnings the way the guard does at runtime.
func openHashStore(communityID string) (*hashstore.Store, error) {
	path := filepath.Join(cfg.DataDir, "hashes_"+communityID+".json")
	store, warnings, err := hashstore.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open hash store: %w", err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	return store, nil
}

// requireToken rejects commands that need a Discord connection when no
// token is configured.
func requireToken() error {
	if cfg.Token == "" {
		return fmt.Errorf("no bot token configured: set token in %s or REPOSTGUARD_TOKEN", cfgPath)
	}
	return nil
}
