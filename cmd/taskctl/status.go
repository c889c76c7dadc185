package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/guido-cesarano/asyncq/pkg/queue"
)

var stateCmd = &cobra.Command{
	Use:   "state [task-id]",
	Short: "Print the last known state of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := client.Inspect(context.Background(), args[0])
		if errors.Is(err, queue.ErrUnknownTask) {
			return fmt.Errorf("unknown or expired task: %s", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("state: %s\nready: %v\nretries: %d\n", meta.State, meta.State.Terminal(), meta.Retries)
		if meta.Error != "" {
			fmt.Printf("error: %s\n", meta.Error)
		}
		return nil
	},
}

var waitTimeout time.Duration

var resultCmd = &cobra.Command{
	Use:   "result [task-id]",
	Short: "Wait for a task to finish and print its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := client.Handle(args[0]).Get(context.Background(), waitTimeout)
		if errors.Is(err, queue.ErrTimeout) {
			return fmt.Errorf("still running after %v (the task may yet complete)", waitTimeout)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%v\n", value)
		return nil
	},
}

func init() {
	resultCmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "How long to wait for a terminal state")
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(resultCmd)
}
