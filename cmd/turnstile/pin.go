package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turnstile-dev/turnstile/internal/bootstrap"
	"github.com/turnstile-dev/turnstile/internal/project"
)

func newPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <tool>@<spec>",
		Short: "Pin a tool version into the nearest package.json's volta key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, spec := parseToolSpec(args[0])
			t, ok := builtInFamily(name)
			if !ok {
				return errUnknownTool(name)
			}
			if spec == "" {
				return fmt.Errorf("pin requires an explicit version, e.g. %s@20.5.0", name)
			}

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			proj, err := project.Discover(cwd)
			if err != nil {
				return err
			}
			if proj == nil {
				return fmt.Errorf("no package.json found above %s", cwd)
			}

			deps, _, err := bootstrap.Build()
			if err != nil {
				return err
			}
			client := clientFor(deps, t)
			if client == nil {
				return errUnknownTool(name)
			}
			vspec, err := parseAndResolve(cmd.Context(), spec, client)
			if err != nil {
				return err
			}

			if err := project.Pin(cmd.Context(), deps.Lock, proj.ManifestPath, t, vspec); err != nil {
				return err
			}
			fmt.Printf("%s pinned %s@%s in %s\n", color.GreenString("✓"), name, vspec, proj.ManifestPath)
			return nil
		},
	}
}
