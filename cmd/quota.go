package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faceless-tools/faceless/internal/anonymizer"
	"github.com/faceless-tools/faceless/internal/config"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show service health and usage quota",
	Long: `Check that the anonymization service is reachable and print the usage
quota it tracks for this client.`,
	RunE: runQuota,
}

func init() {
	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	client, err := anonymizer.New(serviceURL(cfg))
	if err != nil {
		return err
	}

	ctx := context.Background()
	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("service is unreachable: %w", err)
	}
	fmt.Printf("Service: %s (%s)\n", client.Url, health.Status)

	limit, err := client.RateLimit(ctx)
	if err != nil {
		return fmt.Errorf("could not read rate limit: %w", err)
	}
	fmt.Printf("Quota: %d of %d used, %d remaining\n", limit.Used, limit.Limit, limit.Remaining)
	return nil
}
