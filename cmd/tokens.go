package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mihaisavezi/cc-adapter/internal/budget"
	"github.com/mihaisavezi/cc-adapter/internal/convert"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens [file]",
	Short: "Count input tokens of a Messages request",
	Long: `Read an Anthropic Messages request from file (or stdin) and print the
input token estimate the adapter uses for context trimming. With --exact,
count with a tiktoken encoding instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTokens,
}

func init() {
	tokensCmd.Flags().Bool("exact", false, "count with tiktoken")
	tokensCmd.Flags().String("encoding", budget.DefaultEncoding, "tiktoken encoding for --exact")
}

func runTokens(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	exact, _ := cmd.Flags().GetBool("exact")
	encoding, _ := cmd.Flags().GetString("encoding")

	n, err := countTokens(in, exact, encoding)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func countTokens(in io.Reader, exact bool, encoding string) (int, error) {
	var req convert.MessagesRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil && err != io.EOF {
		return 0, fmt.Errorf("decode request: %w", err)
	}

	chat, err := budget.Countable(&req)
	if err != nil {
		return 0, err
	}

	if !exact {
		return budget.Estimate(chat), nil
	}

	counter, err := budget.NewTiktoken(encoding)
	if err != nil {
		return 0, err
	}
	return counter.Count(chat), nil
}
