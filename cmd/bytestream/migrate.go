package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/bytestream/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 执行 stream_chunks 表的迁移
//
//	bytestream migrate [--config path] [--db-type t --db-url u] <action> [arg]
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	dbURL := fs.String("db-url", "", "Database URL (default: built from config)")
	fs.Usage = printMigrateUsage
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printMigrateUsage()
		return errors.New("migrate: missing action")
	}
	action, actionArgs := rest[0], rest[1:]
	if action == "help" {
		printMigrateUsage()
		return nil
	}

	rt, err := newRuntime(*configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	var m *migration.DefaultMigrator
	if *dbURL != "" {
		t := *dbType
		if t == "" {
			t = rt.cfg.Database.Driver
		}
		m, err = migration.NewMigratorFromURL(t, *dbURL, rt.logger)
	} else {
		m, err = migration.NewMigratorFromDatabaseConfig(rt.cfg.Database, rt.logger)
	}
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(os.Stdout)
	return cli.Run(context.Background(), action, actionArgs)
}

func printMigrateUsage() {
	fmt.Println(`stream_chunks schema migrations

Usage:
  bytestream migrate [options] <action> [arg]

Actions:
  up          Apply all pending migrations
  down        Roll back the last migration
  down-all    Roll back all migrations
  steps <n>   Apply (n > 0) or roll back (n < 0) n migrations
  goto <v>    Migrate to version v
  force <v>   Set the version without running migrations
  version     Show the current version
  status      List migrations and whether they are applied
  info        Show a migration summary

Options:
  --config <path>   Path to configuration file (YAML)
  --db-type <type>  postgres, mysql or sqlite (default: database.driver)
  --db-url <url>    Connection URL (default: built from database.*)`)
}
