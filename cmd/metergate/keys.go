package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage Metergate API keys.

Each user can have multiple API keys. Keys authenticate metered requests,
and each key's ID doubles as the source key usage producers report against.

Examples:
  metergate keys list --user=user_123
  metergate keys create --user=user_123
  metergate keys revoke key_abc123`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys for a user",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var (
	keyUserID string
	keyName   string
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	keysListCmd.Flags().StringVar(&keyUserID, "user", "", "user ID (required)")
	keysListCmd.MarkFlagRequired("user")
	keysCreateCmd.Flags().StringVar(&keyUserID, "user", "", "user ID (required)")
	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "key name (optional)")
	keysCreateCmd.MarkFlagRequired("user")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	keys, err := stores.Keys.ListByUser(context.Background(), keyUserID)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Printf("No keys found for user %s.\n", keyUserID)
		fmt.Println()
		fmt.Println("Create a key with: metergate keys create --user=" + keyUserID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tNAME\tSTATUS\tCREATED")
	fmt.Fprintln(w, "--\t------\t----\t------\t-------")

	for _, k := range keys {
		status := "active"
		if k.RevokedAt != nil {
			status = "revoked"
		}
		created := k.CreatedAt.Format("2006-01-02")
		fmt.Fprintf(w, "%s\t%s...\t%s\t%s\t%s\n", k.ID, k.Prefix, k.Name, status, created)
	}

	w.Flush()
	return nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	rawKey, keyData, err := stores.Registrar().IssueKey(context.Background(), keyUserID, keyName)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("%s Created API key for user %s\n", checkMark, keyUserID)
	fmt.Println()
	fmt.Println("API Key (save this, shown once):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Printf("Key ID: %s\n", keyData.ID)

	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	// Confirm revocation
	if !confirm(fmt.Sprintf("Revoke key %s?", keyID)) {
		fmt.Println("Aborted.")
		return nil
	}

	if err := stores.Keys.Revoke(context.Background(), keyID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Printf("%s Revoked key: %s\n", checkMark, keyID)
	return nil
}
