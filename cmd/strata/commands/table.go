package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/piwi3910/strata/pkg/storage"
)

func newTableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Schemaless table operations",
		Long:  `Insert, query, update, and delete records in schemaless tables.`,
	}
	cmd.AddCommand(newTableInsertCommand())
	cmd.AddCommand(newTableQueryCommand())
	cmd.AddCommand(newTableUpdateCommand())
	cmd.AddCommand(newTableDeleteCommand())
	return cmd
}

func newTableInsertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "insert TABLE JSON",
		Short: "Insert a record",
		Long: `Insert a record given as a JSON object. When the object carries an "id"
field that id is used; otherwise one is generated. The record's id is
printed on success.`,
		Example: `  strata table insert users '{"name": "ada", "admin": true}'
  strata table insert users '{"id": "user-1", "name": "grace"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := parseRecord(args[1])
			if err != nil {
				return err
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			id, err := rt.svc.Insert(cmd.Context(), args[0], record)
			if err != nil {
				return err
			}
			if jsonOutput {
				return emitJSON(map[string]string{"id": id})
			}
			fmt.Println(id)
			return nil
		},
	}
}

func newTableQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query TABLE [CONDITIONS]",
		Short: "List records matching every condition",
		Long: `List the records of a table, ordered by id. Conditions are a JSON object
of exact field matches; without them the whole table is listed. Querying a
table that was never written to yields no records.`,
		Example: `  strata table query users
  strata table query users '{"admin": true}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var conditions storage.Conditions
			if len(args) == 2 {
				parsed, err := parseRecord(args[1])
				if err != nil {
					return err
				}
				conditions = parsed
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			records, err := rt.svc.Query(cmd.Context(), args[0], conditions)
			if err != nil {
				return err
			}
			if jsonOutput {
				return emitJSON(records)
			}
			for _, rec := range records {
				id, _ := rec[storage.FieldID].(string)
				fmt.Printf("%s\t%s\n", id, formatValue(rec))
			}
			fmt.Printf("%d record(s)\n", len(records))
			return nil
		},
	}
}

func newTableUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update TABLE ID JSON",
		Short: "Merge fields into an existing record",
		Long: `Merge a partial JSON object into an existing record. Only the fields
present in the payload change; the id field itself cannot be rewritten.`,
		Example: `  strata table update users user-1 '{"admin": false}'`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			partial, err := parseRecord(args[2])
			if err != nil {
				return err
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()
			return rt.svc.Update(cmd.Context(), args[0], args[1], partial)
		},
	}
}

func newTableDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete TABLE ID",
		Short: "Delete a record",
		Long:  `Delete a record by id. Deleting an absent id succeeds silently.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()
			return rt.svc.Delete(cmd.Context(), args[0], args[1])
		},
	}
}
