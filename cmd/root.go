package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/faceless-tools/faceless/internal/config"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "faceless",
	Short: "A CLI tool for anonymizing faces in photos and videos",
	Long: `Faceless submits images and videos to a Face Anonymizer service and
collects the anonymized results. Face detection and the blur, pixelate, and
mask transforms all run server-side; this client moves files and keeps track
of your usage quota.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Anonymizer service URL (overrides ANONYMIZER_URL)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// serviceURL resolves the anonymizer service URL: the --server flag wins over
// the environment.
func serviceURL(cfg *config.Config) string {
	if serverURL != "" {
		return serverURL
	}
	return cfg.Anonymizer.URL
}
