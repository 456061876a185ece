package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newKVCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Key-value operations",
		Long:  `Read and write the key-value area of the configured database.`,
	}
	cmd.AddCommand(newKVGetCommand())
	cmd.AddCommand(newKVSetCommand())
	cmd.AddCommand(newKVDelCommand())
	cmd.AddCommand(newKVListCommand())
	cmd.AddCommand(newKVClearCommand())
	return cmd
}

func newKVGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			value, found, err := rt.svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("key %q not found", args[0])
			}
			if jsonOutput {
				return emitJSON(map[string]any{"key": args[0], "value": value})
			}
			fmt.Println(formatValue(value))
			return nil
		},
	}
}

func newKVSetCommand() *cobra.Command {
	var asString bool

	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a value under a key",
		Long: `Store a value under a key, replacing any existing value.

The value argument is parsed as a boolean, integer, float, or JSON composite
before falling back to a plain string. Use --string to skip parsing.`,
		Example: `  strata kv set greeting hello
  strata kv set retries 5
  strata kv set settings '{"theme": "dark", "fontSize": 14}'
  strata kv set version --string 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			value := any(args[1])
			if !asString {
				value = parseValue(args[1])
			}
			return rt.svc.Set(cmd.Context(), args[0], value)
		},
	}
	cmd.Flags().BoolVar(&asString, "string", false, "store the value as a plain string")
	return cmd
}

func newKVDelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "del KEY",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()
			return rt.svc.Remove(cmd.Context(), args[0])
		},
	}
}

func newKVListCommand() *cobra.Command {
	var withValues bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			keys, err := rt.svc.Keys(cmd.Context())
			if err != nil {
				return err
			}
			if !withValues {
				if jsonOutput {
					return emitJSON(keys)
				}
				for _, key := range keys {
					fmt.Println(key)
				}
				return nil
			}

			results, err := rt.svc.GetMany(cmd.Context(), keys)
			if err != nil {
				return err
			}
			if jsonOutput {
				out := make(map[string]any, len(keys))
				for i, key := range keys {
					out[key] = results[i].Value
				}
				return emitJSON(out)
			}
			for i, key := range keys {
				fmt.Printf("%s\t%s\n", key, formatValue(results[i].Value))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withValues, "values", false, "print values alongside keys")
	return cmd
}

func newKVClearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every key-value entry",
		Long:  `Remove every key-value entry. Table data is not touched.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			defer rt.close()
			return rt.svc.Clear(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the clear")
	return cmd
}
