package main

import (
	"context"
	"fmt"
	"time"

	"github.com/metergate/metergate/domain/quota"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect usage counters",
	Long: `Inspect usage counters.

Examples:
  metergate usage counter key_abc123     # lifetime units for a source key
  metergate usage month user_123         # current month for a user`,
}

var usageCounterCmd = &cobra.Command{
	Use:   "counter <source-key>",
	Short: "Show the lifetime counter for a source key",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsageCounter,
}

var usageMonthCmd = &cobra.Command{
	Use:   "month <user-id-or-email>",
	Short: "Show the current month's usage for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsageMonth,
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.AddCommand(usageCounterCmd)
	usageCmd.AddCommand(usageMonthCmd)
}

func runUsageCounter(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	c, err := stores.Meter.Counter(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to read counter: %w", err)
	}

	fmt.Printf("Source key: %s\n", args[0])
	fmt.Printf("Used:       %d\n", c.Used)
	if !c.UpdatedAt.IsZero() {
		fmt.Printf("Updated:    %s\n", c.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runUsageMonth(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	user, err := getUserByIDOrEmail(stores.Users, args[0])
	if err != nil {
		return fmt.Errorf("user not found: %s", args[0])
	}

	periodStart := quota.PeriodStart(time.Now())
	p, err := stores.Meter.Period(context.Background(), user.ID, periodStart)
	if err != nil {
		return fmt.Errorf("failed to read period: %w", err)
	}

	fmt.Printf("User:         %s (%s)\n", user.Email, user.ID)
	fmt.Printf("Plan:         %s\n", user.PlanSlug)
	fmt.Printf("Period start: %s\n", periodStart.Format("2006-01-02"))
	fmt.Printf("Used:         %d\n", p.Used)
	fmt.Printf("Overage used: %d\n", p.OverageUsed)
	return nil
}
