// Package cli implements the classroomctl commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aura-classroom/backend/config"
	"github.com/aura-classroom/backend/internal/apiclient"
)

// Dependencies are shared by all commands.
type Dependencies struct {
	Config *config.Config
	// NewClient builds the API client from the resolved --api and --token flags.
	NewClient func(baseURL, token string) *apiclient.Client
}

type globalFlags struct {
	api   string
	token string
}

func (g *globalFlags) client(deps *Dependencies) *apiclient.Client {
	newClient := deps.NewClient
	if newClient == nil {
		newClient = apiclient.New
	}
	return newClient(g.api, g.token)
}

// NewRootCmd builds the classroomctl command tree.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "classroomctl",
		Short:         "Operate live classroom sessions and recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.api, "api", envOr("CLASSROOM_API_URL", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("CLASSROOM_TOKEN"), "API bearer token")

	rootCmd.AddCommand(NewRecordingsCmd(deps, flags))
	rootCmd.AddCommand(NewSessionsCmd(deps, flags))
	rootCmd.AddCommand(NewTokenCmd(deps))
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
