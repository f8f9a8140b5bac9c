package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"repondeur/api/internal/changeclock"
	"repondeur/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir); err != nil {
			return err
		}
		migrations, err := store.ListMigrations(cmd.Context(), db, cfg.MigrationsDir)
		if err != nil {
			return err
		}
		for _, m := range migrations {
			fmt.Printf("%s\tapplied=%t\n", m.Version, m.Applied)
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <lecture-id>",
	Short: "Fetch a lecture's amendements from the provider now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lectureID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || lectureID <= 0 {
			return fmt.Errorf("invalid lecture id %q", args[0])
		}
		cfg := loadConfig()
		dataStore, closeStore, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		runner := newRunner(cfg, dataStore, changeclock.New(0), nil)
		if runner == nil {
			return fmt.Errorf("no provider_url configured")
		}
		defer runner.Close()

		result, err := runner.Refresh(cmd.Context(), lectureID)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration, secrets hidden",
	RunE: func(cmd *cobra.Command, args []string) error {
		if file := viper.ConfigFileUsed(); file != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", file)
		}
		out, err := yaml.Marshal(loadConfig().Redacted().File())
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
