package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdfdrop/internal/app"
	"github.com/dgallion1/pdfdrop/internal/config"
	"github.com/dgallion1/pdfdrop/internal/extract"
	"github.com/dgallion1/pdfdrop/internal/pdfcheck"
	"github.com/dgallion1/pdfdrop/internal/pipeline"
)

var (
	runCapabilities []string
	runPublish      bool
)

var runCmd = &cobra.Command{
	Use:   "run <file.pdf>",
	Short: "Extract one PDF into a local bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	runCmd.Flags().StringSliceVar(&runCapabilities, "capabilities", []string{"text", "tables", "figures"}, "content to extract")
	runCmd.Flags().BoolVar(&runPublish, "publish", false, "publish the bundle to the configured storage backend")
	rootCmd.AddCommand(runCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	if !runPublish {
		// Without publishing no storage credentials are needed.
		cfg.StorageBackend = config.StorageLocal
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	info, err := pdfcheck.Inspect(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	caps, err := extract.ParseCapabilities(runCapabilities)
	if err != nil {
		return err
	}

	c, err := app.Build(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	runner := c.Runner
	if !runPublish {
		runner = pipeline.NewRunner(cfg, c.Extractor, c.Workspace, nil, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Info("extracting", "file", args[0], "pages", info.Pages, "capabilities", caps)
	res, err := runner.Run(ctx, pipeline.Input{
		Filename:     filepath.Base(args[0]),
		PDF:          data,
		Capabilities: caps,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:     %s\n", res.Run.ID)
	fmt.Fprintf(out, "bundle:  %s\n", c.Workspace.Dir(res.Run.ID))
	fmt.Fprintf(out, "text:    %d chars\n", res.Run.Counts.TextChars)
	fmt.Fprintf(out, "tables:  %d\n", res.Run.Counts.Tables)
	fmt.Fprintf(out, "figures: %d\n", res.Run.Counts.Figures)
	if res.Publish != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Publish); err != nil {
			return err
		}
	}
	if res.PublishErr != nil {
		return fmt.Errorf("publish: %w", res.PublishErr)
	}
	return nil
}
