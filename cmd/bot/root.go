package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFile string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		Long: `Run connects to Telegram as a bot, serves chapter buttons and caches
chapters into Telegraph articles.

When admin.listen_addr is set an HTTP server exposes:
  - /healthz - liveness
  - /jobs    - chapters being cached right now
  - /bus     - event bus delivery counters`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			return runBot(cmd.Context(), cfg, newLogger(cfg.logLevel))
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply chapter store schema migrations",
		Long: `Migrate applies pending schema migrations to the database named by
store.database_url and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			return runMigrations(cmd.Context(), cfg, newLogger(cfg.logLevel))
		},
	}

	rootCmd := &cobra.Command{
		Use:           "mangabot",
		Short:         "Telegram bot that caches manga chapters as Telegraph articles",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVar(
		&configFile, "config", "", "config file (default: $"+envConfigFile+" or "+defaultConfigFilePath+")",
	)
	rootCmd.AddCommand(runCmd, migrateCmd)

	return rootCmd
}
