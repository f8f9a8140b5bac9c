package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"repondeur/api/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "repondeur",
	Short: "Répondeur API: amendement tables, batches and reponses",
	Long: `Répondeur serves the API used to dispatch amendements between user
tables and shared tables, group them into batches and write their reponses.

Settings are read from flags, then REPONDEUR_* and service environment
variables, then the config file (default ./repondeur.yaml).`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./repondeur.yaml)")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")
	rootCmd.PersistentFlags().String("store", "", "data store: postgres or memory")
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	_ = viper.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))

	config.Bind(viper.GetViper())

	rootCmd.AddCommand(serveCmd, migrateCmd, refreshCmd, configCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("repondeur")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatalf("read config: %v", err)
		}
	}
}

func loadConfig() config.Config {
	return config.Load(viper.GetViper())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
