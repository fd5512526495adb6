// Package cmd holds the rulegraph CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/contextforge/rulegraph/internal/config"
	"github.com/contextforge/rulegraph/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	configPath   string
	rulesRoot    string
	snapshotPath string
)

var rootCmd = &cobra.Command{
	Use:   "rulegraph",
	Short: "Rulegraph: nested rule composition over a file hierarchy",
	Long: `Rulegraph loads a directory tree of rule documents, resolves the
inheritance relationships between them, and composes each rule with its
ancestor chain into a single effective document.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&rulesRoot, "rules", "r", "", "Rule hierarchy root (overrides config)")
	rootCmd.PersistentFlags().StringVar(&snapshotPath, "snapshot", "", "Snapshot database path (enables persistence)")
}

// loadConfig resolves flags over the optional config file.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if rulesRoot != "" {
		cfg.Source.Root = rulesRoot
	}
	if snapshotPath != "" {
		cfg.Snapshot.Enabled = true
		cfg.Snapshot.Path = snapshotPath
	}
	return cfg, nil
}

// newSession builds an orchestrator and loads the hierarchy.
func newSession() (*orchestrator.Orchestrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	o, err := orchestrator.New(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := o.LoadHierarchy(); err != nil {
		_ = o.Close()
		return nil, fmt.Errorf("load hierarchy: %w", err)
	}
	return o, nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the rules in the hierarchy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newSession()
		if err != nil {
			return err
		}
		defer func() { _ = o.Close() }()

		for _, p := range o.Rules() {
			r, _ := o.Rule(p)
			fmt.Printf("%-10s %s\n", r.Type, p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
