// Command turnstile is both the shim-dispatch target (when argv[0] names
// a tool, e.g. a hardlinked copy is invoked as "node") and the
// informative CLI surface (pin/install/uninstall/run/list/which) when
// invoked by its own name. Grounded on tomei's cmd/tomei root command
// (cobra root + subcommands wired to one shared engine), adapted to
// also recognize tool-name argv[0] invocations the way Volta's own
// binary does, so a single executable can be hardlinked into bin/ under
// every shim name without needing a second process exec.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turnstile-dev/turnstile/internal/bootstrap"
	"github.com/turnstile-dev/turnstile/internal/run"
	"github.com/turnstile-dev/turnstile/internal/tlog"
	"github.com/turnstile-dev/turnstile/internal/tool"
)

func main() {
	if isShimInvocation() {
		os.Exit(runAsShim())
		return
	}
	if err := newRootCmd().Execute(); err != nil {
		if ec, ok := err.(*exitCodeError); ok {
			os.Exit(ec.code)
		}
		fmt.Fprintln(os.Stderr, color.RedString("turnstile:"), err)
		os.Exit(1)
	}
}

// isShimInvocation reports whether argv[0] names a built-in tool or a
// recorded package binary rather than "turnstile" itself — the same
// sensing cmd/turnstile-shim does, so a hardlinked copy of this very
// binary works as a shim without a second process exec.
func isShimInvocation() bool {
	base := strings.TrimSuffix(filepath.Base(os.Args[0]), ".exe")
	if base == "turnstile" || base == "" {
		return false
	}
	if _, ok := tool.ParseBuiltIn(base); ok {
		return true
	}
	deps, _, err := bootstrap.Build()
	if err != nil {
		return false
	}
	entry, _ := deps.UserPkgs.LoadBin(base)
	return entry != nil
}

func runAsShim() int {
	name := strings.TrimSuffix(filepath.Base(os.Args[0]), ".exe")
	deps, logDir, err := bootstrap.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "turnstile:", err)
		return 1
	}
	code, err := run.Dispatch(context.Background(), deps, name, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("turnstile:"), err)
		if path := tlog.MaybeReport(logDir, os.Args, err, true); path != "" {
			fmt.Fprintln(os.Stderr, "turnstile: a crash report was written to", path)
		}
		if code == 0 {
			code = 1
		}
	}
	return code
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "turnstile",
		Short:         "Per-project JavaScript toolchain manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newPinCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		newRunCmd(),
		newListCmd(),
		newWhichCmd(),
	)
	return root
}
