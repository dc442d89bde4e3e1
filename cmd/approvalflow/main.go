package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/postpilot/approvalflow/internal/cli"
	"github.com/postpilot/approvalflow/internal/config"
	internal_http "github.com/postpilot/approvalflow/internal/http"
	"github.com/postpilot/approvalflow/internal/log"
	internal_storage "github.com/postpilot/approvalflow/internal/storage"
	"github.com/postpilot/approvalflow/pkg/notify"
)

var rootCmd = &cobra.Command{Use: "approvalflow"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the approval engine HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig()
		if err != nil {
			log.GetLogger().Errorf("Failed to load config: %v", err)
			os.Exit(1)
		}
		connStr, _ := cmd.Flags().GetString("db")
		if connStr == "" {
			connStr = cfg.ConnString()
		}
		store, err := internal_storage.InitStore(connStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		batcher := notify.NewDigestBatcher(notify.NewLogDigestSender(log.GetLogger()), log.GetLogger())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go batcher.Run(ctx, time.Duration(cfg.Notify.DigestIntervalMins)*time.Minute)

		dispatcher := notify.NewAsyncDispatcher(log.GetLogger(),
			[]notify.Sender{notify.NewLogSender(log.GetLogger())},
			notify.WithQueueSize(cfg.Notify.QueueSize),
			notify.WithDigests(batcher))
		defer dispatcher.Stop()

		if err := internal_http.StartServer(strconv.Itoa(cfg.HTTP.Port), store, dispatcher); err != nil {
			log.GetLogger().Errorf("Server stopped: %v", err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
