package main

import (
	"github.com/spf13/cobra"

	"github.com/turnstile-dev/turnstile/internal/bootstrap"
	"github.com/turnstile-dev/turnstile/internal/run"
)

// newRunCmd exposes the shim dispatch pipeline as an explicit
// subcommand ("turnstile run node --version") for scripts that can't
// rely on PATH shims, alongside the implicit argv[0]-sensing path
// isShimInvocation handles.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run <tool> [args...]",
		Short:              "Resolve and run a tool the way its shim would",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, _, err := bootstrap.Build()
			if err != nil {
				return err
			}
			code, err := run.Dispatch(cmd.Context(), deps, args[0], args[1:])
			if err != nil {
				return err
			}
			if code != 0 {
				cmd.SilenceUsage = true
				return &exitCodeError{code: code}
			}
			return nil
		},
	}
	return cmd
}

// exitCodeError carries a nonzero child exit code back to main without
// printing anything extra — the child already wrote its own output.
type exitCodeError struct{ code int }

func (e *exitCodeError) Error() string { return "" }
