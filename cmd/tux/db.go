package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/allthingslinux/tux/pkg/config"
	"github.com/allthingslinux/tux/pkg/storage"
)

// newRevision writes numbered up/down stub files following the existing
// NNNN_name.up.sql convention.
func newRevision(dir, name string) (string, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", err
	}
	next := 1
	for _, e := range entries {
		var n int
		var rest string
		if _, err := fmt.Sscanf(e.Name(), "%d_%s", &n, &rest); err == nil && n >= next {
			next = n + 1
		}
	}

	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	up := filepath.Join(dir, fmt.Sprintf("%04d_%s.up.sql", next, slug))
	down := filepath.Join(dir, fmt.Sprintf("%04d_%s.down.sql", next, slug))
	for _, p := range []string{up, down} {
		if err := os.WriteFile(p, []byte("-- "+slug+"\n"), 0o644); err != nil {
			return "", "", err
		}
	}
	return up, down, nil
}

// withMigrator opens the configured database and hands a ready migrator to
// the subcommand body.
func withMigrator(fn func(*storage.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	mg, err := store.NewMigrator()
	if err != nil {
		return err
	}
	return fn(mg)
}

func newDBCommand() *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "Manage the database schema",
	}

	db.AddCommand(&cobra.Command{
		Use:   "upgrade",
		Short: "Apply all pending migrations",
		RunE: func(*cobra.Command, []string) error {
			return withMigrator(func(mg *storage.Migrator) error {
				if err := mg.Up(); err != nil {
					return err
				}
				fmt.Println("Database is up to date.")
				return nil
			})
		},
	})

	db.AddCommand(&cobra.Command{
		Use:   "downgrade",
		Short: "Roll back the most recent migration",
		RunE: func(*cobra.Command, []string) error {
			return withMigrator(func(mg *storage.Migrator) error {
				if err := mg.Down(); err != nil {
					return err
				}
				fmt.Println("Rolled back one migration.")
				return nil
			})
		},
	})

	db.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Show the current schema version",
		RunE: func(*cobra.Command, []string) error {
			return withMigrator(func(mg *storage.Migrator) error {
				v, dirty, err := mg.Version()
				if err != nil {
					return err
				}
				if v == 0 {
					fmt.Println("No migrations applied.")
					return nil
				}
				fmt.Printf("Version %d (dirty=%v)\n", v, dirty)
				return nil
			})
		},
	})

	db.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "List the embedded migrations",
		RunE: func(*cobra.Command, []string) error {
			names, err := storage.MigrationNames()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	})

	revisionDir := "pkg/storage/migrations"
	revision := &cobra.Command{
		Use:   "revision <name>",
		Short: "Create a new pair of empty migration files",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			up, down, err := newRevision(revisionDir, args[0])
			if err != nil {
				return err
			}
			fmt.Println("Created", up)
			fmt.Println("Created", down)
			return nil
		},
	}
	revision.Flags().StringVar(&revisionDir, "dir", revisionDir, "migrations directory")
	db.AddCommand(revision)

	db.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Drop everything and reapply the full migration set",
		RunE: func(*cobra.Command, []string) error {
			return withMigrator(func(mg *storage.Migrator) error {
				if err := mg.Reset(); err != nil {
					return err
				}
				fmt.Println("Database reset.")
				return nil
			})
		},
	})

	return db
}
