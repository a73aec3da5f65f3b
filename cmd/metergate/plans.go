package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/metergate/metergate/config"
	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Show the plan table",
	Long: `Show the configured plan table.

Plans live in the config file and hot-reload while the server runs.
Edit metergate.yaml (or your --config file) to change them.`,
	RunE: runPlansList,
}

func init() {
	rootCmd.AddCommand(plansCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tLABEL\tMONTHLY QUOTA\tOVERAGE\tOVERAGE PRICE")
	fmt.Fprintln(w, "----\t-----\t-------------\t-------\t-------------")

	for _, p := range cfg.Plans {
		overage := "blocked"
		price := "-"
		if p.AllowOverage {
			overage = "allowed"
			price = fmt.Sprintf("%d¢/unit", p.OverageUnitPriceCents)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", p.Slug, p.Label, p.MonthlyQuota, overage, price)
	}

	w.Flush()
	return nil
}
