package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Initialize the database at the configured schema version",
		Long: `Bootstrap the configured backend and bring it to the configured schema
version. A fresh database is created at version 1; databases behind the
target run their pending migrations in ascending order. Running against an
up-to-date database is a no-op.

Databases already ahead of the configured version are refused: downgrades
only happen through an explicit rollback.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			before, err := rt.svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.svc.Initialize(cmd.Context()); err != nil {
				return err
			}
			after, err := rt.svc.Status(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return emitJSON(after)
			}
			if before.CurrentVersion == after.CurrentVersion {
				fmt.Printf("%s (%s) already at schema v%d\n", after.Database, after.Backend, after.CurrentVersion)
			} else {
				fmt.Printf("%s (%s) migrated from v%d to v%d\n", after.Database, after.Backend, before.CurrentVersion, after.CurrentVersion)
			}
			return nil
		},
	}
}

func newRollbackCommand() *cobra.Command {
	var toVersion int

	cmd := &cobra.Command{
		Use:   "rollback --to VERSION",
		Short: "Roll the schema back to an earlier version",
		Long: `Apply down migrations, highest first, until the schema reaches the given
version. Version 1 is the base schema; rolling back below it is refused.
Every migration in the affected range must declare a down procedure, or the
rollback is refused before any step runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.svc.Rollback(cmd.Context(), toVersion); err != nil {
				return err
			}
			st, err := rt.svc.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return emitJSON(st)
			}
			fmt.Printf("%s (%s) now at schema v%d\n", st.Database, st.Backend, st.CurrentVersion)
			return nil
		},
	}
	cmd.Flags().IntVar(&toVersion, "to", 0, "schema version to roll back to")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
