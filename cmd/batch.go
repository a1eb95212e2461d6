package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	batchInput   string
	batchDiscard bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Evaluate a batch of properties from an address list",
	Long:  "Reads one address per line from the input file and runs the full pipeline over each. When a prior session exists its discard estimate is reported and --discard is required to start over; use resume to continue it instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline()
		if err != nil {
			return err
		}
		defer env.Close()

		addresses, err := readAddressFile(batchInput)
		if err != nil {
			return err
		}
		if len(addresses) == 0 {
			return eris.Errorf("no addresses in %s", batchInput)
		}

		// Never silently destroy prior progress: a fresh start over an
		// existing session requires the operator to see what it costs.
		lost, err := env.Sessions.DiscardEstimate()
		if err != nil {
			return err
		}
		if lost > 0 && !batchDiscard {
			return eris.Errorf("a prior session with %d completed properties exists; run 'phx-eval resume' to continue it, or re-run with --discard to throw it away", lost)
		}
		if lost > 0 {
			zap.L().Warn("discarding prior session", zap.Int("completed_lost", lost))
			if err := env.Sessions.Discard(); err != nil {
				return err
			}
		}

		if _, err := env.Sessions.Start(addresses); err != nil {
			return err
		}
		res, err := env.Pipeline.Run(ctx)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "addresses.txt", "file with one address per line")
	batchCmd.Flags().BoolVar(&batchDiscard, "discard", false, "discard any existing session and start fresh")
	rootCmd.AddCommand(batchCmd)
}

// readAddressFile reads addresses, one per line. Blank lines and #-comments
// are ignored.
func readAddressFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("batch: open address file %s", path))
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "batch: read address file")
	}
	return out, nil
}
