package cmd

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

var composeJSON bool

var composeCmd = &cobra.Command{
	Use:   "compose [rule-path]",
	Short: "Compose a rule with its inheritance chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newSession()
		if err != nil {
			return err
		}
		defer func() { _ = o.Close() }()

		res, err := o.ComposeRule(args[0])
		if err != nil {
			return err
		}

		if composeJSON {
			out, err := oj.Marshal(res, 2)
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}

		for _, w := range res.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		for _, c := range res.Conflicts {
			fmt.Printf("conflict: %s %q (%s -> %s): %s\n",
				c.Kind, c.SectionOrKey, c.ParentPath, c.ChildPath, c.Resolution)
		}
		if !res.Success {
			return fmt.Errorf("composition of %s failed", args[0])
		}
		fmt.Println(res.ComposedContent)
		return nil
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain [rule-path]",
	Short: "Print a rule's inheritance chain, root first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newSession()
		if err != nil {
			return err
		}
		defer func() { _ = o.Close() }()

		chain, err := o.ResolveChain(args[0])
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(chain, " -> "))
		return nil
	},
}

func init() {
	composeCmd.Flags().BoolVar(&composeJSON, "json", false, "Emit the full composition result as JSON")
	rootCmd.AddCommand(composeCmd)
	rootCmd.AddCommand(chainCmd)
}
