package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/nstogner/tiered/pkg/router"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the selectable tiers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		ent := router.NewEntitlements(reg)

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("TIER", "MODEL", "CLASS", "THINKING", "PLAN", "$/1M IN", "$/1M OUT", "CAPABILITIES")
		for _, s := range reg.Selectable() {
			key := s.Key
			if key == reg.DefaultKey() {
				key += " *"
			}
			t.Row(key, s.ModelID, string(s.Class), s.Thinking.String(), string(ent.MinimumPlan(s.Key)),
				fmt.Sprintf("%.2f", s.Pricing.InputPer1M), fmt.Sprintf("%.2f", s.Pricing.OutputPer1M),
				strings.Join(s.Capabilities, ","))
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.Render())
		fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("* default tier"))
		return nil
	},
}
