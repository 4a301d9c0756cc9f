package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var transformCmd = &cobra.Command{
	Use:   "transform [file]",
	Short: "Transform source code",
	Long: `Transform JavaScript, TypeScript, JSX, or TSX source with esbuild.

Code can be provided via:
  - File argument: esbridge transform app.tsx --loader tsx
  - Inline flag: esbridge transform -c 'const x: number = 1' --loader ts
  - Stdin: cat app.jsx | esbridge transform`,
	Args: cobra.MaximumNArgs(1),
	Run:  runTransform,
}

func init() {
	transformCmd.Flags().StringP("code", "c", "", "Code to transform")
	transformCmd.Flags().String("loader", "", "Input loader: js, jsx, ts, tsx, css, json (default jsx)")
	transformCmd.Flags().Bool("minify", false, "Minify the output")
	rootCmd.AddCommand(transformCmd)
}

// readSource resolves input from a flag, a file argument, or stdin.
func readSource(cmd *cobra.Command, args []string) (string, error) {
	if code, _ := cmd.Flags().GetString("code"); code != "" {
		return code, nil
	}
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("read %s: %w", args[0], err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func transformOptions(cmd *cobra.Command) map[string]any {
	options := make(map[string]any)
	if loader, _ := cmd.Flags().GetString("loader"); loader != "" {
		options["loader"] = loader
	}
	if minify, _ := cmd.Flags().GetBool("minify"); minify {
		options["minify"] = true
	}
	return options
}

func runTransform(cmd *cobra.Command, args []string) {
	source, err := readSource(cmd, args)
	if err != nil {
		fatal(err)
	}

	client, err := newClient(cmd)
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	code, err := client.Transform(context.Background(), source, transformOptions(cmd))
	if err != nil {
		fatal(err)
	}
	fmt.Print(code)
}
