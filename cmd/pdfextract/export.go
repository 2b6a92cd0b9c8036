package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdfdrop/internal/render"
	"github.com/dgallion1/pdfdrop/internal/workspace"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <run-id> <output-file>",
	Short: "Export a saved bundle's text as .docx or its tables as .xlsx",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportFormat != "docx" && exportFormat != "xlsx" {
			return fmt.Errorf("unknown format %q (want docx or xlsx)", exportFormat)
		}
		ws := workspace.New(cfg.GeneratedDir, log)
		runID, target := args[0], args[1]

		f, err := os.Create(target)
		if err != nil {
			return err
		}
		defer f.Close()

		switch exportFormat {
		case "docx":
			text, err := ws.Text(runID)
			if err != nil {
				return err
			}
			if err := render.WriteDOCX(f, "Extracted text", text); err != nil {
				return err
			}
		case "xlsx":
			b, err := ws.Load(runID)
			if err != nil {
				return err
			}
			if err := render.WriteXLSX(f, b.Tables()); err != nil {
				return err
			}
		}
		return f.Close()
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "docx", "docx or xlsx")
	rootCmd.AddCommand(exportCmd)
}
