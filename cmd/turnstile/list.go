package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turnstile-dev/turnstile/internal/bootstrap"
	"github.com/turnstile-dev/turnstile/internal/doctor"
	"github.com/turnstile-dev/turnstile/internal/project"
	"github.com/turnstile-dev/turnstile/internal/run"
	"github.com/turnstile-dev/turnstile/internal/tool"
)

func newListCmd() *cobra.Command {
	var showCurrent, showDefault, showAll, verify bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Report the project/default/inventory toolchain state",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, _, err := bootstrap.Build()
			if err != nil {
				return err
			}

			if verify {
				return runVerify(deps)
			}

			if showCurrent || (!showDefault && !showAll) {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				proj, err := project.Discover(cwd)
				if err != nil {
					return err
				}
				if proj == nil || proj.Volta.IsZero() {
					fmt.Println("current: no project pin found")
				} else {
					fmt.Printf("current: %s (from %s)\n", describeVolta(proj.Volta), proj.ManifestPath)
				}
				if showCurrent {
					return nil
				}
			}

			if showDefault || showAll {
				doc, err := deps.Toolchain.Load()
				if err != nil {
					return err
				}
				fmt.Printf("default: %s\n", describeDoc(doc.Node, doc.Npm, doc.Yarn, doc.Pnpm))
				if showDefault {
					return nil
				}
			}

			return listInventory(deps)
		},
	}

	cmd.Flags().BoolVar(&showCurrent, "current", false, "show only the active project's pinned platform")
	cmd.Flags().BoolVar(&showDefault, "default", false, "show only the user default platform")
	cmd.Flags().BoolVar(&showAll, "all", false, "show every installed image and user package")
	cmd.Flags().BoolVar(&verify, "verify", false, "scan for dangling shims and orphaned records")
	return cmd
}

func describeVolta(v project.VoltaKey) string {
	return describeDoc(v.Node, v.Npm, v.Yarn, v.Pnpm)
}

func describeDoc(node, npm, yarn, pnpm string) string {
	out := "node " + orNone(node)
	if npm != "" {
		out += ", npm " + npm
	}
	if yarn != "" {
		out += ", yarn " + yarn
	}
	if pnpm != "" {
		out += ", pnpm " + pnpm
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// listInventory reports every installed image per built-in kind, plus
// every globally installed user package.
func listInventory(deps run.Deps) error {
	for _, t := range tool.BuiltIns {
		kind := t.Name()
		versions, err := deps.Inventory.List(kind)
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Printf("%s %s\n", kind, v)
		}
	}

	pkgs, err := deps.UserPkgs.ListAll()
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		fmt.Printf("package %s@%s\n", pkg.Name, pkg.Version)
		for _, bin := range pkg.Bins {
			fmt.Printf("  bin %s\n", bin.Name)
		}
	}
	return nil
}

// runVerify scans bin/ and the user registry for dangling shims and
// orphaned records and reports them to the user.
func runVerify(deps run.Deps) error {
	report, err := doctor.Scan(deps.Layout, deps.UserPkgs)
	if err != nil {
		return err
	}
	if !report.HasIssues() {
		fmt.Println(color.GreenString("ok"), "no inconsistencies found")
		return nil
	}
	for _, issue := range report.Issues {
		fmt.Println(color.YellowString(string(issue.Kind)), issue.Message())
	}
	return nil
}
