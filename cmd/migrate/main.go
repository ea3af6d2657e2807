package main

import (
	"log"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/clickhouse"
	"gorm.io/gorm"

	"bitget-radar/configs"
)

func main() {
	cfg, err := configs.AppLoad()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if !cfg.ClickHouse.Enabled() {
		log.Fatal("CLICKHOUSE_HOST is not set")
	}

	db, err := gorm.Open(clickhouse.Open(cfg.ClickHouse.DSN()), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get sql.DB: %v", err)
	}
	if err := goose.SetDialect("clickhouse"); err != nil {
		log.Fatalf("Goose: failed to set dialect: %v", err)
	}

	log.Println("Running database migrations...")
	if err := goose.Up(sqlDB, "internal/migrations"); err != nil {
		log.Fatalf("Goose migration failed: %v", err)
	}
	log.Println("Migrations completed successfully")
}
