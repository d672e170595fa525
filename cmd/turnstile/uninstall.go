package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turnstile-dev/turnstile/internal/bootstrap"
)

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <tool>[@<version>]",
		Short: "Remove a user-installed package, or a cached tool image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, spec := parseToolSpec(args[0])
			deps, _, err := bootstrap.Build()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if _, ok := builtInFamily(name); ok {
				if spec == "" {
					return fmt.Errorf("uninstall requires an explicit version for %s, e.g. %s@20.5.0", name, name)
				}
				if err := deps.Installer.Uninstall(ctx, name, spec); err != nil {
					return err
				}
				fmt.Printf("%s removed %s@%s\n", color.GreenString("✓"), name, spec)
				return nil
			}

			if err := deps.UserPkgs.Uninstall(ctx, name); err != nil {
				return err
			}
			fmt.Printf("%s removed %s\n", color.GreenString("✓"), name)
			return nil
		},
	}
}
