package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the database's schema version against the configured target",
		Long: `Show where the configured database stands: its persisted schema version,
the version this configuration targets, and any pending migrations. No
migration is run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			st, err := rt.svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return emitJSON(st)
			}

			fmt.Printf("Database: %s\n", st.Database)
			fmt.Printf("Backend:  %s\n", st.Backend)
			fmt.Printf("Schema:   v%d (target v%d)\n", st.CurrentVersion, st.TargetVersion)
			switch {
			case st.CurrentVersion > st.TargetVersion:
				fmt.Println("State:    ahead of target; refuse to run until the configuration catches up")
			case len(st.Pending) > 0:
				fmt.Printf("Pending:  %v\n", st.Pending)
			default:
				fmt.Println("State:    up to date")
			}
			return nil
		},
	}
}
