package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	flags := &requestFlags{}

	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from a collection",
		Long: `Answer a question using the fragments of a collection most similar to it.

Examples:
  ragkb ask --collection moby "Which whale?"
  ragkb ask Which whale did Ahab chase`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			req := flags.request(cfg)
			req.Ask = true
			question := strings.Join(args, " ")
			return runRequest(cmd.Context(), cmd.OutOrStdout(), cfg, req, []byte(question))
		},
	}

	cmd.Flags().StringVar(&flags.collection, "collection", "", "collection name (default from config)")
	return cmd
}
