package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"pipeflow/internal/config"
	"pipeflow/internal/services"
	"pipeflow/pkg/db"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute all due recurring rules once and print the batch result",
	Long: `Connects to the database, selects every active recurring rule whose
next execution is in the past, executes them, and prints the aggregated
result as JSON. Intended for cron-style setups that do not keep the
server's built-in poller running.`,
	Run: runDue,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDue(cmd *cobra.Command, args []string) {
	cfg := config.Load()
	if cfg.Database.Name == "" {
		cfg = config.GetDefaultConfig()
	}
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	logger := logrus.StandardLogger()

	conn, err := db.Open(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	tickets := services.NewTicketService(conn, logger)
	notifications := services.NewNotificationService(conn, logger, nil)
	automation := services.NewAutomationService(conn, logger, tickets, notifications, nil)
	tickets.SetEventHandler(automation)
	recurring := services.NewRecurringService(conn, logger, tickets, cfg.Scheduler.DefaultIntervalMinutes)

	batch, err := recurring.ExecuteDueRules(context.Background(), time.Now().UTC())
	if err != nil {
		logger.Fatalf("Batch execution failed: %v", err)
	}

	out, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		logger.Fatalf("Encode result: %v", err)
	}
	fmt.Println(string(out))

	if batch.ErrorCount > 0 {
		os.Exit(1)
	}
}
