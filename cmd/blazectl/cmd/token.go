package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/blazereport/internal/auth"
)

var (
	tokenUsername string
	tokenSecret   string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API access token for a user",
	Long: `Mint a JWT for an existing active user. The secret must match the
server's auth.jwt_secret; it defaults to $BLAZEREPORT_JWT_SECRET.

Example:
  export TOKEN=$(blazectl token --user alice --ttl 1h)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			tokenSecret = os.Getenv("BLAZEREPORT_JWT_SECRET")
		}
		if tokenSecret == "" {
			return errors.WithHint(errors.New("jwt secret is required"), "pass --secret or set BLAZEREPORT_JWT_SECRET")
		}

		ctx := cmd.Context()
		store, err := openDatabase(ctx, dbPath, false)
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := store.Users().GetByUsername(ctx, tokenUsername)
		if err != nil {
			return errors.Wrap(err, "find user")
		}
		if user == nil || !user.Active {
			return errors.Newf("no active user %q", tokenUsername)
		}

		token, err := auth.NewJWTService([]byte(tokenSecret), tokenTTL).GenerateToken(user)
		if err != nil {
			return errors.Wrap(err, "generate token")
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	addDBFlag(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenUsername, "user", "", "username to mint the token for (required)")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "JWT signing secret")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
