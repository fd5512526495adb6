package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the rule hierarchy for cycles, orphans, and conflicts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newSession()
		if err != nil {
			return err
		}
		defer func() { _ = o.Close() }()

		rep := o.Validate()

		fmt.Printf("rules: %d (with inheritance: %d, max depth: %d)\n",
			rep.Statistics.TotalRules,
			rep.Statistics.RulesWithInheritance,
			rep.Statistics.MaxDepth)
		for _, cyc := range rep.Cycles {
			fmt.Printf("cycle: %s\n", strings.Join(cyc, " -> "))
		}
		for _, orphan := range rep.Orphans {
			fmt.Printf("orphan: %s names a parent that does not exist\n", orphan)
		}
		for _, c := range rep.Conflicts {
			fmt.Printf("%s: %s %q (%s -> %s)\n",
				c.Severity, c.Kind, c.SectionOrKey, c.ParentPath, c.ChildPath)
		}

		if !rep.Valid {
			return fmt.Errorf("hierarchy is invalid")
		}
		fmt.Println("hierarchy is valid")
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show composition cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newSession()
		if err != nil {
			return err
		}
		defer func() { _ = o.Close() }()

		// Compose everything once so the counters mean something.
		for _, p := range o.Rules() {
			_, _ = o.ComposeRule(p)
		}

		s := o.CacheStats()
		fmt.Printf("size: %d / %d\n", s.Size, s.MaxSize)
		fmt.Printf("hit rate: %.2f over %d accesses\n", s.HitRate, s.TotalAccesses)
		fmt.Printf("expired: %d, evicted: %d\n", s.ExpiredItems, s.EvictedEntries)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statsCmd)
}
