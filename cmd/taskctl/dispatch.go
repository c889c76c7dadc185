package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/guido-cesarano/asyncq/pkg/tasks"
)

var (
	dispatchArgs   string
	dispatchKwargs string
	dispatchQueue  string
	dispatchDelay  time.Duration
	dispatchExpiry time.Duration
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [name]",
	Short: "Dispatch a task and print its ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sig := tasks.Signature{
			Name:      args[0],
			Queue:     dispatchQueue,
			Delay:     dispatchDelay,
			ExpiresIn: dispatchExpiry,
		}
		if dispatchArgs != "" {
			if err := json.Unmarshal([]byte(dispatchArgs), &sig.Args); err != nil {
				return fmt.Errorf("--args must be a JSON array: %w", err)
			}
		}
		if dispatchKwargs != "" {
			if err := json.Unmarshal([]byte(dispatchKwargs), &sig.Kwargs); err != nil {
				return fmt.Errorf("--kwargs must be a JSON object: %w", err)
			}
		}

		handle, err := client.Dispatch(context.Background(), sig)
		if err != nil {
			return err
		}
		fmt.Println(handle.ID())
		return nil
	},
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchArgs, "args", "", `Positional inputs as a JSON array, e.g. '[10, 20]'`)
	dispatchCmd.Flags().StringVar(&dispatchKwargs, "kwargs", "", `Named inputs as a JSON object, e.g. '{"subject": "hi"}'`)
	dispatchCmd.Flags().StringVar(&dispatchQueue, "queue", "", "Target queue (default: default)")
	dispatchCmd.Flags().DurationVar(&dispatchDelay, "delay", 0, "Delay before the task becomes eligible")
	dispatchCmd.Flags().DurationVar(&dispatchExpiry, "expires", 0, "Deadline after which the task must not start")
	rootCmd.AddCommand(dispatchCmd)
}
