package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ErDmKo/esbridge/codec"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build <entry>...",
	Short: "Bundle entry points into a single file",
	Long: `Bundle one or more entry points, following imports, into one output file.

Example:
  esbridge build src/app.js --outfile dist/bundle.js`,
	Args: cobra.MinimumNArgs(1),
	Run:  runBuild,
}

func init() {
	buildCmd.Flags().StringP("outfile", "o", "", "Output file (required)")
	buildCmd.MarkFlagRequired("outfile")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) {
	outfile, _ := cmd.Flags().GetString("outfile")

	client, err := newClient(cmd)
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	result, err := client.Build(context.Background(), codec.BuildRequest{
		EntryPoints: args,
		Outfile:     outfile,
	})
	if err != nil {
		fatal(err)
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Text)
	}
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s\n", e.Text)
		}
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "wrote %s\n", outfile)
}
