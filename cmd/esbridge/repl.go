package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive transform loop",
	Long: `Read source lines interactively and print their transformed output.

Features:
  - Command history (up/down arrows)
  - Multi-line input (end line with \)
  - :loader <name> switches the input loader mid-session

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Run: runRepl,
}

func init() {
	replCmd.Flags().String("loader", "jsx", "Input loader: js, jsx, ts, tsx")
	replCmd.Flags().String("history", "", "History file path (default: ~/.esbridge_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) {
	loader, _ := cmd.Flags().GetString("loader")
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".esbridge_history")
	}

	client, err := newClient(cmd)
	if err != nil {
		fatal(err)
	}
	defer client.Close()

	fmt.Printf("esbridge %s (backend: %s, loader: %s)\n", version, client.ActiveBackend(), loader)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">>> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fatal(err)
	}
	defer rl.Close()

	var pending strings.Builder
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			pending.Reset()
			rl.SetPrompt(">>> ")
			continue
		}
		if err == io.EOF {
			break
		}

		switch strings.TrimSpace(line) {
		case "exit", "quit":
			return
		}

		if name, ok := strings.CutPrefix(strings.TrimSpace(line), ":loader "); ok {
			loader = strings.TrimSpace(name)
			fmt.Printf("loader: %s\n", loader)
			continue
		}

		// Trailing backslash continues the statement on the next line.
		if trimmed, ok := strings.CutSuffix(line, "\\"); ok {
			pending.WriteString(trimmed)
			pending.WriteString("\n")
			rl.SetPrompt("... ")
			continue
		}
		pending.WriteString(line)
		source := pending.String()
		pending.Reset()
		rl.SetPrompt(">>> ")

		if strings.TrimSpace(source) == "" {
			continue
		}

		code, err := client.Transform(context.Background(), source, map[string]any{"loader": loader})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Print(code)
	}
}
