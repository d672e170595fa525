// Package bootstrap wires together the collaborators both
// cmd/turnstile-shim and cmd/turnstile need: the Layout, the shared
// Lock, a Fetcher, the four registry.Clients, and the higher-level
// stores built on top of them. Splitting this out keeps both binaries'
// main() to argv handling and exit codes.
package bootstrap

import (
	"os"

	"github.com/turnstile-dev/turnstile/internal/fetch"
	"github.com/turnstile-dev/turnstile/internal/install"
	"github.com/turnstile-dev/turnstile/internal/inventory"
	"github.com/turnstile-dev/turnstile/internal/layout"
	"github.com/turnstile-dev/turnstile/internal/lock"
	"github.com/turnstile-dev/turnstile/internal/registry/hooks"
	"github.com/turnstile-dev/turnstile/internal/registry/node"
	"github.com/turnstile-dev/turnstile/internal/registry/npmlike"
	"github.com/turnstile-dev/turnstile/internal/registry/yarn"
	"github.com/turnstile-dev/turnstile/internal/run"
	"github.com/turnstile-dev/turnstile/internal/tlog"
	"github.com/turnstile-dev/turnstile/internal/toolchain"
	"github.com/turnstile-dev/turnstile/internal/userpkgs"
)

// Build constructs a run.Deps ready for Dispatch, plus the log
// directory crash reports should land in.
func Build() (run.Deps, string, error) {
	l, err := layout.New()
	if err != nil {
		return run.Deps{}, "", err
	}
	for _, dir := range []string{l.CacheDir(), l.BinDir(), l.TmpDir(), l.LogDir(), l.UserDir(), l.UserPackagesDir(), l.UserBinsDir()} {
		if err := layout.EnsureDir(dir); err != nil {
			return run.Deps{}, "", err
		}
	}

	lk := lock.New(l.LockFile()).WithLogger(tlog.NewLogger())
	fetcher := fetch.New(l.CacheDir(), nil)

	hookResolver := hooks.NewResolver(loadHookDocs(l.UserHooksFile())...)

	clients := run.RegistryClients{
		Node: node.New(fetcher, hookResolver),
		Npm:  npmlike.New(fetcher, hookResolver, hooks.ToolNpm, "npm"),
		Yarn: yarn.New(fetcher, hookResolver),
		Pnpm: npmlike.New(fetcher, hookResolver, hooks.ToolPnpm, "pnpm"),
	}

	inv := inventory.New(l)
	installer := install.New(l, lk, inv, fetcher)
	userPkgs := userpkgs.New(l, lk)
	chain := toolchain.New(l, lk)

	deps := run.Deps{
		Layout:     l,
		Lock:       lk,
		Toolchain:  chain,
		UserPkgs:   userPkgs,
		Inventory:  inv,
		Installer:  installer,
		Registries: clients,
		Fetcher:    fetcher,
	}
	return deps, l.LogDir(), nil
}

// loadHookDocs reads and parses the user-level hooks.json, returning no
// documents (not an error) if the file doesn't exist or fails to parse —
// a broken hooks.json should not block every shim invocation.
func loadHookDocs(path string) []*hooks.Document {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	doc, err := hooks.Parse(data)
	if err != nil || doc == nil {
		return nil
	}
	return []*hooks.Document{doc}
}
