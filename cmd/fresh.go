package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	freshInput string
	freshYes   bool
)

var freshCmd = &cobra.Command{
	Use:   "fresh",
	Short: "Discard any existing session and start a new batch",
	Long:  "Throws away the current session state and evaluates the address list from scratch. The estimate of completed work that would be lost is always reported first; pass --yes to accept the loss.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline()
		if err != nil {
			return err
		}
		defer env.Close()

		addresses, err := readAddressFile(freshInput)
		if err != nil {
			return err
		}
		if len(addresses) == 0 {
			return eris.Errorf("no addresses in %s", freshInput)
		}

		lost, err := env.Sessions.DiscardEstimate()
		if err != nil {
			return err
		}
		if lost > 0 {
			fmt.Printf("discarding the existing session loses %d completed properties\n", lost)
			if !freshYes {
				return eris.New("refusing to discard without --yes")
			}
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
	freshCmd.Flags().StringVar(&freshInput, "input", "addresses.txt", "file with one address per line")
	freshCmd.Flags().BoolVar(&freshYes, "yes", false, "accept the reported loss of completed work")
	rootCmd.AddCommand(freshCmd)
}
