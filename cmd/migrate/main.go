package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"github.com/Mutter0815/liftsmail/internal/auth"
	"github.com/Mutter0815/liftsmail/internal/store"
	"github.com/Mutter0815/liftsmail/migrations"
	"github.com/Mutter0815/liftsmail/pkg/config"
	"github.com/Mutter0815/liftsmail/pkg/db"
	"github.com/Mutter0815/liftsmail/pkg/logx"
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool for liftsmail",
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	RunE:  runUp,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration",
	RunE:  runDown,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runStatus,
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Create a user and print a bearer token for it",
	RunE:  runUser,
}

var userEmail string

func init() {
	userCmd.Flags().StringVar(&userEmail, "email", "", "address of the new user")
	_ = userCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(userCmd)
}

func main() {
	defer logx.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func open() (*sql.DB, error) {
	sqlDB, err := db.Open(config.MustLoadDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return sqlDB, nil
}

func getMigrator(sqlDB *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

func withMigrator(fn func(m *migrate.Migrate) error) error {
	sqlDB, err := open()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	m, err := getMigrator(sqlDB)
	if err != nil {
		return err
	}
	return fn(m)
}

func runUp(cmd *cobra.Command, args []string) error {
	logx.L().Infow("migrate_up_start")
	return withMigrator(func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration failed: %w", err)
		}
		logx.L().Infow("migrate_up_done")
		return nil
	})
}

func runDown(cmd *cobra.Command, args []string) error {
	logx.L().Infow("migrate_down_start")
	return withMigrator(func(m *migrate.Migrate) error {
		if err := m.Steps(-1); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		logx.L().Infow("migrate_down_done")
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withMigrator(func(m *migrate.Migrate) error {
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read version: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version: %d, dirty: %v\n", version, dirty)
		return nil
	})
}

func runUser(cmd *cobra.Command, args []string) error {
	secret, ttl := config.MustLoadTokens()

	sqlDB, err := open()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	u, err := store.New(sqlDB).CreateUser(ctx, userEmail)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	token, err := auth.NewTokens(secret, ttl).Issue(u.ID, u.Email)
	if err != nil {
		return err
	}
	logx.L().Infow("user_created", "user_id", u.ID, "email", logx.RedactEmail(u.Email))
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
