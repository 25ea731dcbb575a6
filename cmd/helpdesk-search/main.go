package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:   "helpdesk-search",
	Short: "Help center ingestion, search and answers",
	Example: `helpdesk-search migrate
helpdesk-search ingest
helpdesk-search search "conciliação bancária"
helpdesk-search ask "Como emitir uma nota fiscal?"
helpdesk-search serve --port 3000
helpdesk-search --data-dir /var/lib/helpdesk stats`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The flag wins over .env and the config file
		if cmd.Flags().Changed("data-dir") {
			return os.Setenv("DATA_DIR", dataDir)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file (default: ./helpdesk.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Directory for the SQLite database and search index")

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		ingestCmd(),
		rewriteURLsCmd(),
		searchCmd(),
		askCmd(),
		getDocCmd(),
		reindexCmd(),
		statsCmd(),
	)

	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
