package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdfdrop/internal/app"
	"github.com/dgallion1/pdfdrop/internal/config"
)

var (
	cfg config.Config
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pdfextract",
	Short: "Extract text, tables and figures from PDFs",
	Long: `pdfextract sends a PDF to Adobe PDF Services, unpacks the result into a
local bundle (text, structured data, tables, figures) and optionally
publishes the bundle to Dropbox or a local directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotenv(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		cfg = config.Load(config.NewViper(cmd.Flags()))
		log = app.NewLogger(os.Stderr, cfg.LogLevel)
		return nil
	},
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
