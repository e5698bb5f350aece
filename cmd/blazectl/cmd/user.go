package cmd

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazereport/internal/models"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,64}$`)

var (
	userUsername string
	userEmail    string
	userRole     string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User management commands",
	Long: `Commands for managing the users that own schedules and act as their
executors. Users authenticate to the API with tokens minted by
"blazectl token".`,
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openDatabase(ctx, dbPath, false)
		if err != nil {
			return err
		}
		defer store.Close()

		users, err := store.Users().List(ctx)
		if err != nil {
			return errors.Wrap(err, "list users")
		}
		if GetOutput() == "json" {
			return printJSON(users)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-20s  %-30s  %-10s  %-6s  %s\n",
			"ID", "USERNAME", "EMAIL", "ROLE", "ACTIVE", "CREATED")
		fmt.Println(strings.Repeat("-", 124))
		for _, u := range users {
			fmt.Printf("%-36s  %-20s  %-30s  %-10s  %-6t  %s\n",
				u.ID, u.Username, u.Email, u.Role, u.Active,
				u.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		fmt.Printf("\nTotal: %d user(s)\n", len(users))
		return nil
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new user",
	Long: `Create a new user in the database. The database is created if it does
not exist yet.

Available roles:
  - admin: Full access
  - operator: Can trigger schedule runs
  - viewer: Read-only access

Example:
  blazectl user create --username john --email john@example.com --role operator`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := newUserFromFlags(userUsername, userEmail, userRole)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openDatabase(ctx, dbPath, true)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := createUser(ctx, store.Users(), user); err != nil {
			return err
		}

		if GetOutput() == "json" {
			return printJSON(user)
		}
		fmt.Printf("\nUser created successfully:\n")
		fmt.Printf("  ID:       %s\n", user.ID)
		fmt.Printf("  Username: %s\n", user.Username)
		fmt.Printf("  Email:    %s\n", user.Email)
		fmt.Printf("  Role:     %s\n", user.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userListCmd, userCreateCmd)
	addDBFlag(userListCmd, userCreateCmd)

	userCreateCmd.Flags().StringVar(&userUsername, "username", "", "username for the new user (required)")
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "email for the new user (required)")
	userCreateCmd.Flags().StringVar(&userRole, "role", "viewer", "role: admin, operator, or viewer")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("email")
}

// newUserFromFlags validates the flag values and builds an active user.
func newUserFromFlags(username, email, role string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, errors.Newf("invalid username %q: use 3-64 letters, digits, dot, dash or underscore", username)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid email %q", email)
	}
	switch r := models.Role(strings.ToLower(role)); r {
	case models.RoleAdmin, models.RoleOperator, models.RoleViewer:
		u := models.NewUser(username, addr.Address, r)
		u.ID = uuid.NewString()
		return u, nil
	}
	return nil, errors.Newf("invalid role %q: must be admin, operator, or viewer", role)
}

type userStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

func createUser(ctx context.Context, users userStore, user *models.User) error {
	existing, err := users.GetByUsername(ctx, user.Username)
	if err != nil {
		return errors.Wrap(err, "check username")
	}
	if existing != nil {
		return errors.Newf("username %q already exists", user.Username)
	}
	if err := users.Create(ctx, user); err != nil {
		return errors.Wrap(err, "create user")
	}
	return nil
}
