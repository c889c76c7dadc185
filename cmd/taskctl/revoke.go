package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var revokeCmd = &cobra.Command{
	Use:   "revoke [task-id]",
	Short: "Cancel a task before or during execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.Revoke(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Revoked: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(revokeCmd)
}
