package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"omniasync-backend/lib/configutil"
	configsqlite "omniasync-backend/lib/configutil/sqlite"
	"omniasync-backend/lib/retryutil"
	"omniasync-backend/lib/sinks/webform"
	"omniasync-backend/services/ingest"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "omniasync-cli",
	Short: "omniasync-cli inspects the record store and drives ingestion cycles by hand.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "config.json5",
		"path to the daemon configuration",
	)
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(message string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", message, err)
	os.Exit(1)
}

type PortalConfig struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type RetryConfig struct {
	MaxAttempts  int `json:"max_attempts"`
	DelaySeconds int `json:"delay_seconds"`
}

// Config mirrors the daemon configuration, the CLI reads the same
// config.json5.
type Config struct {
	Database     configsqlite.Struct   `json:"database"`
	Portal       PortalConfig          `json:"portal"`
	Persistence  map[string]string     `json:"persistence"`
	Retry        RetryConfig           `json:"retry"`
	Destinations []webform.Destination `json:"destinations"`
}

func readConfig() Config {
	config, err := configutil.ReadConfig[Config](configPath)
	if err != nil {
		fatal("failed to read config", err)
	}
	return config
}

func openStore(config Config) ingest.Store {
	db, err := config.Database.OpenDB("")
	if err != nil {
		fatal("failed to open database", err)
	}

	modes := map[string]ingest.Mode{}
	for name, raw := range config.Persistence {
		mode, err := ingest.ParseMode(raw)
		if err != nil {
			fatal("invalid persistence config", err)
		}
		modes[name] = mode
	}

	store, err := ingest.NewStore(db, modes)
	if err != nil {
		fatal("failed to initialize store", err)
	}
	return store
}

func retryPolicy(config Config) retryutil.Policy {
	return retryutil.Policy{
		MaxAttempts: config.Retry.MaxAttempts,
		Delay:       time.Duration(config.Retry.DelaySeconds) * time.Second,
	}
}

func subSchemaArg(name string) ingest.SubSchema {
	schema, ok := ingest.SubSchemaByName(name)
	if !ok {
		fatal("unknown sub-schema", fmt.Errorf("%q", name))
	}
	return schema
}
