package main

import (
	"fmt"
	"strings"

	"github.com/turnstile-dev/turnstile/internal/tool"
)

// parseToolSpec splits "name@spec" into its two parts, handling scoped
// package names ("@scope/name@1.2.3") whose own leading "@" must not be
// mistaken for the version separator.
func parseToolSpec(arg string) (name, spec string) {
	scoped := strings.HasPrefix(arg, "@")
	search := arg
	if scoped {
		search = arg[1:]
	}
	if idx := strings.LastIndex(search, "@"); idx >= 0 {
		if scoped {
			return arg[:idx+1], arg[idx+2:]
		}
		return arg[:idx], arg[idx+1:]
	}
	return arg, ""
}

// builtInFamily maps a tool name to its built-in Tool value, reporting
// false for names that are not built-ins.
func builtInFamily(name string) (tool.Tool, bool) {
	t, ok := tool.ParseBuiltIn(name)
	return t, ok
}

func errUnknownTool(name string) error {
	return fmt.Errorf("%q is not node, npm, yarn, pnpm, or a recognized package name", name)
}
