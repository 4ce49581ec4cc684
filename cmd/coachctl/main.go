// Command coachctl runs operational tasks against the coach database:
// applying migrations and creating local users.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbURL   string
	envFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coachctl",
	Short: "Admin tasks for the coach API database",
	Long: `coachctl talks to Postgres directly. The connection string comes from
--db-url, or DB_URL in the environment or the .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		if dbURL == "" {
			dbURL = os.Getenv("DB_URL")
		}
		if dbURL == "" {
			return errors.New("DB_URL is not set")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "Postgres connection string (default $DB_URL)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load first")
	rootCmd.AddCommand(migrateCmd, createUserCmd)
}

func connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return conn, nil
}
