package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <address>",
	Short: "Evaluate a single property",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline()
		if err != nil {
			return err
		}
		defer env.Close()

		lost, err := env.Sessions.DiscardEstimate()
		if err != nil {
			return err
		}
		if lost > 0 {
			return eris.Errorf("a prior session with %d completed properties exists; run 'phx-eval resume' to finish it first, or discard it with 'phx-eval fresh'", lost)
		}

		if _, err := env.Sessions.Start([]string{args[0]}); err != nil {
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
	rootCmd.AddCommand(runCmd)
}
