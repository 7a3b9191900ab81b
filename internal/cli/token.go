package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aura-classroom/backend/internal/auth"
)

// NewTokenCmd mints API tokens with the server's JWT secret.
func NewTokenCmd(deps *Dependencies) *cobra.Command {
	var (
		role      string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an API token (or a live room token with --session)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.Config == nil {
				return errors.New("no configuration loaded")
			}
			svc := auth.NewJWTService(deps.Config.JWT.Secret, deps.Config.JWT.ExpireHours, deps.Config.JWT.LiveTokenTTL)
			var (
				token string
				err   error
			)
			if sessionID != "" {
				token, err = svc.GenerateLive(args[0], role, sessionID)
			} else {
				token, err = svc.Generate(args[0], role)
			}
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleInstructor, "token role")
	cmd.Flags().StringVar(&sessionID, "session", "", "scope the token to a live session room")
	return cmd
}
