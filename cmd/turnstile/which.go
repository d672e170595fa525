package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turnstile-dev/turnstile/internal/bootstrap"
	"github.com/turnstile-dev/turnstile/internal/project"
	"github.com/turnstile-dev/turnstile/internal/resolver"
	"github.com/turnstile-dev/turnstile/internal/run"
)

func newWhichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "which <name>",
		Short: "Print the absolute path the shim would dispatch <name> to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, _, err := bootstrap.Build()
			if err != nil {
				return err
			}
			path, _, err := resolveWhich(cmd.Context(), deps, args[0])
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

// resolveWhich re-derives the same resolution internal/run.Dispatch
// performs, stopping short of installing or executing anything. It
// returns the binary path and the effective Platform's Describe() text.
func resolveWhich(ctx context.Context, deps run.Deps, name string) (string, string, error) {
	t, err := run.IdentifyTool(deps.UserPkgs, name)
	if err != nil {
		return "", "", err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	proj, err := project.Discover(cwd)
	if err != nil {
		return "", "", err
	}

	req, err := run.BuildResolveRequest(ctx, deps, t, proj)
	if err != nil {
		return "", "", err
	}
	resolved, err := resolver.Resolve(req)
	if err != nil {
		return "", "", err
	}

	path, err := run.ResolveBinaryPath(deps, t, resolved)
	if err != nil {
		return "", "", err
	}
	return path, resolved.Describe(), nil
}
