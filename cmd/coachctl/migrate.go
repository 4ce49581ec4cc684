package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

var migrationsDir string

// migrateCmd applies pending db/*.sql files in name order. Each file and its
// record in the migrations table commit in one transaction.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		conn, err := connect(ctx)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)

		ran, err := migrate(ctx, conn, migrationsDir, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if ran == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d migration(s) applied.\n", ran)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "db", "directory holding the *.sql migrations")
}

func migrate(ctx context.Context, conn *pgx.Conn, dir string, out io.Writer) (int, error) {
	files, err := pendingFiles(dir)
	if err != nil {
		return 0, err
	}

	// The migrations table may not exist yet; its first file creates it.
	applied := make(map[string]bool)
	rows, err := conn.Query(ctx, "SELECT migration FROM migrations")
	if err == nil {
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err == nil {
				applied[name] = true
			}
		}
		rows.Close()
	}

	ran := 0
	for _, f := range files {
		filename := filepath.Base(f)
		if applied[filename] {
			fmt.Fprintf(out, "  skip: %s\n", filename)
			continue
		}
		content, err := os.ReadFile(f)
		if err != nil {
			return ran, fmt.Errorf("read %s: %w", filename, err)
		}

		tx, err := conn.Begin(ctx)
		if err != nil {
			return ran, fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			_ = tx.Rollback(ctx)
			return ran, fmt.Errorf("run %s: %w", filename, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO migrations (migration, description) VALUES ($1, $2)",
			filename, descriptionFromFilename(filename)); err != nil {
			_ = tx.Rollback(ctx)
			return ran, fmt.Errorf("record %s: %w", filename, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return ran, fmt.Errorf("commit %s: %w", filename, err)
		}
		fmt.Fprintf(out, "  applied: %s\n", filename)
		ran++
	}
	return ran, nil
}

func pendingFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

var migrationPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-\d{3}-`)

// descriptionFromFilename strips the YYYY-MM-DD-NNN- prefix and .sql suffix.
func descriptionFromFilename(filename string) string {
	name := strings.TrimSuffix(filename, ".sql")
	name = migrationPrefix.ReplaceAllString(name, "")
	return strings.ReplaceAll(name, "-", " ")
}
