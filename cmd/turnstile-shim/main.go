// Command turnstile-shim is the tiny binary that ends up on PATH under
// many names (node, npm, npx, yarn, tsc, ...). Each copy is a hardlink
// or copy of the same executable; it figures out which tool it's
// impersonating from argv[0] (falling back to TURNSTILE_SHIM_NAME, for
// the rare filesystem that can't preserve distinct inode names across a
// copy-fallback shim) and hands off to the shared dispatch logic in
// internal/run.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/turnstile-dev/turnstile/internal/bootstrap"
	"github.com/turnstile-dev/turnstile/internal/run"
	"github.com/turnstile-dev/turnstile/internal/tlog"
)

func main() {
	os.Exit(mainReturningCode())
}

func mainReturningCode() int {
	name := shimName()
	deps, logDir, err := bootstrap.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "turnstile:", err)
		return 1
	}

	code, err := run.Dispatch(context.Background(), deps, name, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "turnstile:", err)
		if path := tlog.MaybeReport(logDir, os.Args, err, isMutating(name, os.Args[1:])); path != "" {
			fmt.Fprintln(os.Stderr, "turnstile: a crash report was written to", path)
		}
		if code == 0 {
			code = 1
		}
	}
	return code
}

func shimName() string {
	base := filepath.Base(os.Args[0])
	base = strings.TrimSuffix(base, ".exe")
	if base != "" && base != "turnstile-shim" {
		return base
	}
	if fallback := os.Getenv("TURNSTILE_SHIM_NAME"); fallback != "" {
		return fallback
	}
	return base
}

func isMutating(name string, args []string) bool {
	switch name {
	case "npm", "npx", "yarn", "yarnpkg", "pnpm", "pnpx":
		for _, a := range args {
			switch a {
			case "install", "add", "rm", "uninstall", "unlink", "link", "update", "upgrade", "ci":
				return true
			}
		}
	}
	return false
}
