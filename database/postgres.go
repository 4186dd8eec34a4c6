package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

var DB *sql.DB

// Connect establishes the database connection. The history layer is
// optional; callers skip Connect entirely when no DATABASE_URL is set.
func Connect(dbURL string) error {
	var err error
	DB, err = sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(10)
	DB.SetMaxIdleConns(5)
	DB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = DB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Connected to database successfully")
	return nil
}

func Close() {
	if DB != nil {
		DB.Close()
		logrus.Info("Database connection closed")
	}
}

// Migrate applies the schema file. Missing file is a warning, not a failure,
// so a binary deployed without the schema directory still starts.
func Migrate(schemaPath string) error {
	if DB == nil {
		return fmt.Errorf("database connection not established")
	}

	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}

	if _, err := DB.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	logrus.WithField("schema", schemaPath).Info("Database schema applied")
	return nil
}
