package cmd

import (
	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage provider key pools",
}

var poolSetCmd = &cobra.Command{
	Use:   "set [name] [key...]",
	Short: "Create or replace a key pool",
	Long:  `Store the given provider API keys under a pool name. Users assigned to the pool submit with these keys; "default" is the shared pool.`,
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, closeFn, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		id, err := backend.SetPool(cmd.Context(), args[0], args[1:])
		if err != nil {
			return err
		}
		cmd.Printf("Pool %q saved (id %d, %d keys)\n", args[0], id, len(args)-1)
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolSetCmd)
	rootCmd.AddCommand(poolCmd)
}
