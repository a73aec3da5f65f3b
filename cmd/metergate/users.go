package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/metergate/metergate/ports"
	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users",
	Long: `Manage Metergate users.

Users are the accounts quotas are enforced against. Each user can have
multiple API keys and is assigned to a plan.

Examples:
  metergate users list
  metergate users create --email=dev@example.com --plan=community
  metergate users set-plan dev@example.com pro`,
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE:  runUsersList,
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	RunE:  runUsersCreate,
}

var usersGetCmd = &cobra.Command{
	Use:   "get <user-id-or-email>",
	Short: "Get user details",
	Args:  cobra.ExactArgs(1),
	RunE:  runUsersGet,
}

var usersSetPlanCmd = &cobra.Command{
	Use:   "set-plan <user-id-or-email> <plan-slug>",
	Short: "Change a user's plan",
	Args:  cobra.ExactArgs(2),
	RunE:  runUsersSetPlan,
}

var (
	userEmail string
	userPlan  string
)

func init() {
	rootCmd.AddCommand(usersCmd)

	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersCreateCmd)
	usersCmd.AddCommand(usersGetCmd)
	usersCmd.AddCommand(usersSetPlanCmd)

	usersCreateCmd.Flags().StringVar(&userEmail, "email", "", "user email (required)")
	usersCreateCmd.Flags().StringVar(&userPlan, "plan", "community", "plan slug")
	usersCreateCmd.MarkFlagRequired("email")
}

func runUsersList(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	users, err := stores.Users.List(context.Background(), 1000, 0)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users found.")
		fmt.Println()
		fmt.Println("Create a user with: metergate users create --email=dev@example.com")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tPLAN\tCREATED")
	fmt.Fprintln(w, "--\t-----\t----\t-------")

	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.PlanSlug, u.CreatedAt.Format("2006-01-02"))
	}

	w.Flush()
	return nil
}

func runUsersCreate(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	if _, ok := findPlan(stores, userPlan); !ok {
		return fmt.Errorf("unknown plan: %s", userPlan)
	}

	user, err := stores.Registrar().CreateUser(context.Background(), userEmail, userPlan)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("%s Created user: %s\n", checkMark, user.ID)
	fmt.Printf("   Email: %s\n", user.Email)
	fmt.Printf("   Plan:  %s\n", user.PlanSlug)
	fmt.Println()
	fmt.Println("Create an API key with: metergate keys create --user=" + user.ID)

	return nil
}

func runUsersGet(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	user, err := getUserByIDOrEmail(stores.Users, args[0])
	if err != nil {
		return fmt.Errorf("user not found: %s", args[0])
	}

	fmt.Printf("ID:      %s\n", user.ID)
	fmt.Printf("Email:   %s\n", user.Email)
	fmt.Printf("Plan:    %s\n", user.PlanSlug)
	fmt.Printf("Created: %s\n", user.CreatedAt.Format("2006-01-02 15:04:05"))
	if !user.UpdatedAt.IsZero() {
		fmt.Printf("Updated: %s\n", user.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

func runUsersSetPlan(cmd *cobra.Command, args []string) error {
	stores, err := openStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	user, err := getUserByIDOrEmail(stores.Users, args[0])
	if err != nil {
		return fmt.Errorf("user not found: %s", args[0])
	}

	planSlug := args[1]
	if _, ok := findPlan(stores, planSlug); !ok {
		return fmt.Errorf("unknown plan: %s", planSlug)
	}

	if err := stores.Users.UpdatePlan(context.Background(), user.ID, planSlug); err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}

	fmt.Printf("%s Moved %s to plan %s\n", checkMark, user.Email, planSlug)
	return nil
}

// getUserByIDOrEmail retrieves a user by ID or email address
func getUserByIDOrEmail(users ports.UserStore, identifier string) (ports.User, error) {
	ctx := context.Background()

	// If it contains @, treat as email
	if strings.Contains(identifier, "@") {
		return users.GetByEmail(ctx, identifier)
	}

	// Otherwise treat as ID
	return users.Get(ctx, identifier)
}

func findPlan(stores *storeSet, slug string) (label string, ok bool) {
	for _, p := range stores.cfg.Plans {
		if p.Slug == slug {
			return p.Label, true
		}
	}
	return "", false
}
