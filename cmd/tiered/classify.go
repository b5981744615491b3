package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nstogner/tiered/pkg/classify"
	"github.com/nstogner/tiered/pkg/domain"
	"github.com/nstogner/tiered/pkg/router"
)

var classifyPlan string

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Classify a request and show the tier it would be routed to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		backend, err := newBackend(ctx)
		if err != nil {
			return err
		}

		rt := router.New(reg, classify.New(backend, reg, classify.WithTimeout(cfg.ClassifierTimeout)))
		d := rt.Route(ctx, strings.Join(args, " "), domain.ParsePlan(classifyPlan))

		b, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("Routed to "+d.TierKey))
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyPlan, "plan", string(domain.PlanFree), "subscription plan to route for")
}
