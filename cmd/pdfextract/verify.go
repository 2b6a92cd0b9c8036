package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/pdfdrop/internal/app"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the storage backend credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app.NewStorage(cfg, log)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Verify(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s storage ok\n", s.Backend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
