package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/app"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/config"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run a single dispatch batch",
	Long:  `Claim due pending messages and hand them to the provider, then exit. Intended for external schedulers such as cron.`,
	RunE:  runDispatch,
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	result, err := application.RunDispatchOnce(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d messages\n", result.Processed)
	for _, r := range result.Results {
		if r.Success {
			fmt.Printf("  %s: sent\n", r.MessageID)
		} else {
			fmt.Printf("  %s: failed (%s)\n", r.MessageID, r.Error)
		}
	}
	return nil
}
