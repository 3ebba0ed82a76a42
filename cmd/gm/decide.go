package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/gm/pkg/types"
)

var approveCmd = &cobra.Command{
	Use:   "approve <decision-id>",
	Short: "Approve a pending decision, letting the GM proceed",
	Args:  cobra.ExactArgs(1),
	RunE:  makeResolveRunE(types.ActionApprove),
}

var rejectCmd = &cobra.Command{
	Use:   "reject <decision-id>",
	Short: "Reject a pending decision, skipping or failing the affected work",
	Args:  cobra.ExactArgs(1),
	RunE:  makeResolveRunE(types.ActionReject),
}

func makeResolveRunE(action types.DecisionAction) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		decisionID := args[0]

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		status, err := a.gm.Resolve(decisionID, action)
		if err != nil {
			return fmt.Errorf("resolve decision %s: %w", decisionID, err)
		}

		color.Green("decision %s resolved: %s", decisionID, status)
		return nil
	}
}
