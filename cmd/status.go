package cmd

import (
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show plugin status and recent activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withConsole(cmd, func(s *session) error {
				refreshErr := s.console.View.Refresh(cmd.Context())
				if err := printStatus(cmd.OutOrStdout(), s.rt.output, s.console.View.State()); err != nil {
					return err
				}
				return refreshErr
			})
		},
	}
}
