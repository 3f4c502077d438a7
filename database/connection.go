package database

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gpresearch2025/ai-voice-agent/internal/logger"
)

// Connect opens the Postgres connection. An empty dsn is built from the
// DB_USER/DB_PASS/DB_NAME/DB_HOST variables, or from INSTANCE_CONNECTION_NAME on Cloud Run.
func Connect(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = dsnFromEnv()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		// Maps unique violations to gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	logger.Base().Info("database connected successfully")
	return db, nil
}

func dsnFromEnv() string {
	dbUser := os.Getenv("DB_USER")
	if dbUser == "" {
		dbUser = "postgres"
	}

	dbPass := os.Getenv("DB_PASS")
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "callpilot"
	}

	// For Cloud Run with Cloud SQL
	if instance := os.Getenv("INSTANCE_CONNECTION_NAME"); instance != "" {
		logger.Base().Info("connecting to Cloud SQL via socket", zap.String("instance", instance))
		return fmt.Sprintf("host=/cloudsql/%s user=%s password=%s dbname=%s sslmode=disable",
			instance, dbUser, dbPass, dbName)
	}

	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "localhost"
	}
	logger.Base().Info("connecting to PostgreSQL", zap.String("host", host))
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=5432 sslmode=disable",
		host, dbUser, dbPass, dbName)
}
