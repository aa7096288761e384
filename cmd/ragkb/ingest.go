package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragkb/internal/config"
	"github.com/fyrsmithlabs/ragkb/internal/kb"
)

// requestFlags are the collection flags shared by ingest and ask.
type requestFlags struct {
	collection string
	vectorSize uint64
	reset      bool
}

func (f *requestFlags) request(cfg *config.Config) kb.Request {
	req := kb.Request{
		Collection: f.collection,
		VectorSize: f.vectorSize,
		Reset:      f.reset,
	}
	if req.Collection == "" {
		req.Collection = cfg.Retrieval.DefaultCollection
	}
	if req.VectorSize == 0 {
		req.VectorSize = cfg.Retrieval.DefaultVectorSize
	}
	return req
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	flags := &requestFlags{}

	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Embed a JSON file of text batches into a collection",
		Long: `Embed a JSON file of text batches into a collection.

The file holds an array of arrays of strings; every string becomes one or
more points. Use - to read from stdin.

Examples:
  # Start a fresh collection
  ragkb ingest book.json --collection moby --vector-size 1536 --reset

  # Append to it
  cat more.json | ragkb ingest - --collection moby`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runRequest(cmd.Context(), cmd.OutOrStdout(), cfg, flags.request(cfg), body)
		},
	}

	cmd.Flags().StringVar(&flags.collection, "collection", "", "collection name (default from config)")
	cmd.Flags().Uint64Var(&flags.vectorSize, "vector-size", 0, "vector dimensionality used with --reset (default from config)")
	cmd.Flags().BoolVar(&flags.reset, "reset", false, "drop and recreate the collection first")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", name, err)
	}
	return b, nil
}

// runRequest executes one knowledge-base request in process and prints the
// outcome message. A failed outcome is returned as an error.
func runRequest(ctx context.Context, out io.Writer, cfg *config.Config, req kb.Request, body []byte) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	res := a.service.Handle(ctx, req, body)
	if !res.OK() {
		return fmt.Errorf("%s (status %d)", res.Body(), res.Code)
	}
	fmt.Fprintln(out, strings.TrimRight(res.Body(), "\n"))
	return nil
}
