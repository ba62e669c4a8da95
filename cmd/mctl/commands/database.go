package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/db"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/logger"
)

// configFile is the --config flag; empty means the normal search cascade
var configFile string

// BindConfigFlag adds --config to the root command
func BindConfigFlag(root *cobra.Command) {
	root.PersistentFlags().StringVar(&configFile, "config", "", "Read configuration from this file instead of the am.toml cascade")
}

// loadConfig loads and validates configuration from --config or the cascade
func loadConfig() (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	if configFile != "" {
		cfg, err = am.LoadFromFile(configFile)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// watchedConfigPath is the file a config watcher should follow: --config,
// else the highest-precedence file the cascade merged
func watchedConfigPath() string {
	if configFile != "" {
		return configFile
	}
	files := am.LoadedFiles()
	if len(files) == 0 {
		return ""
	}
	return files[len(files)-1]
}

// openDatabase opens and migrates the configured database
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.AddDBSymbol(logger.ComponentLogger("db")))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	return database, nil
}

// withDatabase loads config, opens the database and runs fn
func withDatabase(fn func(cfg *am.Config, database *sql.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(cfg, database)
}
