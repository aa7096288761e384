// Ragkb is a retrieval-augmented knowledge base: it embeds text batches into
// a vector collection and answers questions from the closest fragments.
//
// Usage:
//
//	# Serve the HTTP API
//	ragkb serve
//
//	# Ingest a JSON file of batches, replacing the collection
//	ragkb ingest book.json --collection moby --vector-size 1536 --reset
//
//	# Ask a question
//	ragkb ask --collection moby "Which whale?"
//
// Configuration comes from defaults, an optional YAML file (--config) and
// RAGKB_* environment variables. A .env file in the working directory is
// loaded first.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	// A missing .env is the common case.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are flags shared by every command.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ragkb",
		Short: "Retrieval-augmented knowledge base",
		Long: `ragkb stores text fragments as vectors and answers questions with a chat
model, using the fragments most similar to the question as context.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newAskCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ragkb by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
