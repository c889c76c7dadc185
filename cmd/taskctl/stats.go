package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print current queue depths",
	RunE: func(cmd *cobra.Command, args []string) error {
		depths := client.GetQueueDepths(context.Background())

		names := make([]string, 0, len(depths))
		for q := range depths {
			names = append(names, q)
		}
		sort.Strings(names)

		for _, q := range names {
			fmt.Printf("%-24s %d\n", q, depths[q])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
