package main

import (
	"log"

	"pipeflow/internal/config"
	"pipeflow/pkg/db"

	"github.com/spf13/viper"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if cfg.Database.Name == "" {
		cfg = config.GetDefaultConfig()
	}

	conn, err := db.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")
	if err := db.Migrate(conn); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migration completed successfully!")

	// 复合索引，AutoMigrate 不覆盖
	log.Println("Creating additional indexes...")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_recurring_active_next ON recurring_rules(is_active, next_execution)")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_automation_event_process ON automation_rules(trigger_event, process_id)")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_executions_rule_status ON automation_executions(rule_id, status)")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_process_stage ON tickets(process_id, stage_id)")
	conn.Exec("CREATE INDEX IF NOT EXISTS idx_tickets_status_created ON tickets(status, created_at)")
	log.Println("Indexes created.")
}
