package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talgya/tilecity/internal/tiles"
)

func init() {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the adjacency rules and weights in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rs, err := cfg.RuleSet()
			if err != nil {
				return err
			}
			w, err := cfg.WeightTable()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, rs.Format())
			fmt.Fprintln(out, "weights:")
			for _, c := range tiles.Placeable {
				fmt.Fprintf(out, "  %c %-12s %.2f\n", c.Glyph(), c, w.Of(c))
			}
			return nil
		},
	}

	rootCmd.AddCommand(rulesCmd)
}
