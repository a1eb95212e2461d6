package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/resilience"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the last interrupted batch",
	Long:  "Loads the persisted session, resets stale in-progress work to pending, and processes only what has not completed. Completed properties are never re-executed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline()
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Sessions.Resume(); err != nil {
			var ie *resilience.IntegrityError
			if errors.As(err, &ie) {
				return eris.Wrapf(err, "session state unusable (about %d completed properties at risk); restore a backup of %s, or start a fresh batch with --discard", ie.CompletedLost, ie.Path)
			}
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
	rootCmd.AddCommand(resumeCmd)
}
