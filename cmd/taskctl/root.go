package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guido-cesarano/asyncq/pkg/config"
	"github.com/guido-cesarano/asyncq/pkg/queue"
)

var (
	redisAddr string
	client    *queue.Client
)

var rootCmd = &cobra.Command{
	Use:   "taskctl",
	Short: "Client for the asyncq task queue.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if client != nil {
			return nil
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if redisAddr == "" {
			redisAddr = cfg.Redis.Addr
		}
		client = queue.NewClient(redisAddr).
			WithQueues(cfg.Worker.Queues...).
			WithResultTTL(cfg.Worker.ResultTTL)
		client.Register(cfg.Tasks...)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address (default from config, 127.0.0.1:6379)")
}
