// Package run implements the shim dispatch entry point (spec.md §4.15):
// identify the requested Tool from argv[0], resolve its Platform, ensure
// the backing images are installed, build the child's environment,
// spawn it, and — for a global-mutating package-manager command —
// invoke the GlobalInterceptor afterward. Grounded on the control-flow
// shape of tomei's cmd/tomei root command dispatch plus
// internal/installer/engine's context-threaded cancellation, adapted
// from tomei's "apply a CUE manifest" entry point to "run one resolved
// binary".
package run

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/Masterminds/semver/v3"

	"github.com/turnstile-dev/turnstile/internal/fetch"
	"github.com/turnstile-dev/turnstile/internal/global"
	"github.com/turnstile-dev/turnstile/internal/install"
	"github.com/turnstile-dev/turnstile/internal/inventory"
	"github.com/turnstile-dev/turnstile/internal/layout"
	"github.com/turnstile-dev/turnstile/internal/lock"
	"github.com/turnstile-dev/turnstile/internal/platform"
	"github.com/turnstile-dev/turnstile/internal/project"
	"github.com/turnstile-dev/turnstile/internal/registry"
	"github.com/turnstile-dev/turnstile/internal/resolver"
	"github.com/turnstile-dev/turnstile/internal/terrors"
	"github.com/turnstile-dev/turnstile/internal/tool"
	"github.com/turnstile-dev/turnstile/internal/toolchain"
	"github.com/turnstile-dev/turnstile/internal/userpkgs"
	"github.com/turnstile-dev/turnstile/internal/versionspec"
)

const (
	envBypass      = "TURNSTILE_BYPASS"
	envShimDepth   = "TURNSTILE_SHIM_DEPTH"
	envProjectNode = "TURNSTILE_PROJECT_NODE"
)

// mutatingTokens is the configurable set of npm/yarn/pnpm subcommands
// that install or remove global binaries, per spec.md §4.15 step 6 and
// §9's note that this set should be treated as configurable.
var mutatingTokens = []string{"install", "add", "rm", "uninstall", "unlink", "link", "update", "upgrade"}

// RegistryClients bundles the Client each built-in tool family resolves
// against. Callers construct these once per invocation (they share one
// fetch.Fetcher and hooks.Resolver).
type RegistryClients struct {
	Node registry.LTSClient
	Npm  registry.Client
	Yarn registry.Client
	Pnpm registry.Client
}

// Deps bundles every collaborator Dispatch needs. All are constructed
// once by cmd/turnstile's root command and threaded through.
type Deps struct {
	Layout     *layout.Layout
	Lock       *lock.Lock
	Toolchain  *toolchain.Store
	UserPkgs   *userpkgs.Registry
	Inventory  *inventory.Inventory
	Installer  *install.Installer
	Registries RegistryClients
	Fetcher    *fetch.Fetcher
	Progress   func(kind string) func(read, total int64)
}

// Dispatch implements spec.md §4.15's seven steps for one shim
// invocation. invocationName is the argv[0]-derived tool name; args are
// the caller's remaining arguments.
func Dispatch(ctx context.Context, d Deps, invocationName string, args []string) (int, error) {
	if bypass := os.Getenv(envBypass); bypass != "" {
		return dispatchBypass(d.Layout, invocationName, args)
	}

	depth, _ := strconv.Atoi(os.Getenv(envShimDepth))
	if depth >= 2 {
		return 0, terrors.New(terrors.CategoryBug, terrors.CodeBug, "recursive shim invocation detected for "+invocationName)
	}

	t, err := IdentifyTool(d.UserPkgs, invocationName)
	if err != nil {
		return 0, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return 0, terrors.Wrap(terrors.CategoryFileSystem, terrors.CodeFileSystem, "resolving current directory", err)
	}
	proj, err := project.Discover(cwd)
	if err != nil {
		return 0, err
	}

	req, err := BuildResolveRequest(ctx, d, t, proj)
	if err != nil {
		return 0, err
	}
	resolved, err := resolver.Resolve(req)
	if err != nil {
		return 0, err
	}

	targets, err := installTargets(d, resolved)
	if err != nil {
		return 0, err
	}
	if err := d.Installer.EnsureAll(ctx, targets); err != nil {
		return 0, err
	}

	env := buildChildEnv(d.Layout, resolved, depth)
	binPath, err := ResolveBinaryPath(d, t, resolved)
	if err != nil {
		return 0, err
	}

	exitCode, runErr := spawn(ctx, binPath, args, env)

	if runErr == nil && exitCode == 0 && isGlobalMutation(t, args) {
		prefixDir := globalPrefixDir(d.Layout, resolved)
		_ = global.Reconcile(ctx, d.UserPkgs, prefixDir, resolved)
	}

	return exitCode, runErr
}

func IdentifyTool(reg *userpkgs.Registry, name string) (tool.Tool, error) {
	if t, ok := tool.ParseBuiltIn(name); ok {
		return t, nil
	}
	entry, err := reg.LoadBin(name)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, terrors.New(terrors.CategoryInput, terrors.CodeInvalidManifest, "unrecognized shim invocation: "+name)
	}
	return tool.PackageBin{BinName: entry.Name, PackageName: entry.Package}, nil
}

func BuildResolveRequest(ctx context.Context, d Deps, t tool.Tool, proj *project.Project) (resolver.Request, error) {
	req := resolver.Request{Tool: t}

	if proj != nil && !proj.Volta.IsZero() {
		p, err := resolveProjectPlatform(ctx, d, proj.Volta)
		if err != nil {
			return resolver.Request{}, err
		}
		req.Project = p
	}

	doc, err := d.Toolchain.Load()
	if err != nil {
		return resolver.Request{}, err
	}
	if doc.Node != "" {
		p, err := resolveDocPlatform(ctx, d, doc, platform.OriginDefault)
		if err != nil {
			return resolver.Request{}, err
		}
		req.Default = p
	}

	if pb, ok := t.(tool.PackageBin); ok {
		pkg, err := d.UserPkgs.Load(pb.PackageName)
		if err != nil {
			return resolver.Request{}, err
		}
		if pkg != nil {
			p, err := pkg.ResolvedPlatform()
			if err != nil {
				return resolver.Request{}, err
			}
			req.UserPackagePlatform = &p
		}
		req.RestoreProjectNode = os.Getenv(envProjectNode) != ""
	}

	return req, nil
}

func resolveProjectPlatform(ctx context.Context, d Deps, v project.VoltaKey) (platform.Platform, error) {
	doc := toolchain.Document{Node: v.Node, Npm: v.Npm, Yarn: v.Yarn, Pnpm: v.Pnpm}
	return resolveDocPlatform(ctx, d, doc, platform.OriginProject)
}

func resolveDocPlatform(ctx context.Context, d Deps, doc toolchain.Document, origin platform.Origin) (platform.Platform, error) {
	var p platform.Platform
	if doc.Node == "" {
		return p, nil
	}
	nodeVer, err := resolveSpecString(ctx, doc.Node, d.Registries.Node)
	if err != nil {
		return p, err
	}
	p.Node = platform.Sourced[*semver.Version]{Value: nodeVer, Origin: origin}

	if doc.Npm != "" {
		npmVer, err := resolveSpecString(ctx, doc.Npm, d.Registries.Npm)
		if err != nil {
			return p, err
		}
		p.Npm = &platform.Sourced[*semver.Version]{Value: npmVer, Origin: origin}
	}

	if doc.Pnpm != "" {
		pmVer, err := resolveSpecString(ctx, doc.Pnpm, d.Registries.Pnpm)
		if err != nil {
			return p, err
		}
		p.Pm = &platform.Sourced[platform.PmSelection]{
			Value:  platform.PmSelection{Kind: platform.PmPnpm, Version: pmVer},
			Origin: origin,
		}
	} else if doc.Yarn != "" {
		pmVer, err := resolveSpecString(ctx, doc.Yarn, d.Registries.Yarn)
		if err != nil {
			return p, err
		}
		p.Pm = &platform.Sourced[platform.PmSelection]{
			Value:  platform.PmSelection{Kind: platform.PmYarn, Version: pmVer},
			Origin: origin,
		}
	}
	return p, nil
}

func resolveSpecString(ctx context.Context, raw string, client registry.Client) (*semver.Version, error) {
	spec, err := versionspec.Parse(raw)
	if err != nil {
		return nil, err
	}
	rv, err := client.ResolveSpec(ctx, spec)
	if err != nil {
		return nil, err
	}
	return rv.Num, nil
}

func installTargets(d Deps, p platform.Platform) ([]install.Target, error) {
	if p.IsZero() {
		return nil, terrors.NewNoPlatformError()
	}
	var targets []install.Target
	targets = append(targets, install.Target{
		Kind:    tool.Node{}.Name(),
		Version: registry.Version{Num: p.Node.Value},
		Client:  d.Registries.Node,
	})
	if p.Npm != nil {
		targets = append(targets, install.Target{
			Kind:    tool.Npm{}.Name(),
			Version: registry.Version{Num: p.Npm.Value},
			Client:  d.Registries.Npm,
		})
	}
	if p.Pm != nil {
		client := d.Registries.Yarn
		kind := tool.Yarn{}.Name()
		if p.Pm.Value.Kind == platform.PmPnpm {
			client = d.Registries.Pnpm
			kind = tool.Pnpm{}.Name()
		}
		targets = append(targets, install.Target{
			Kind:    kind,
			Version: registry.Version{Num: p.Pm.Value.Version},
			Client:  client,
		})
	}
	return targets, nil
}

func buildChildEnv(l *layout.Layout, p platform.Platform, depth int) []string {
	env := os.Environ()
	pathDirs := []string{filepath.Join(l.ImageDir(tool.Node{}.Name(), p.Node.Value.String()), "bin")}
	if p.Pm != nil {
		kind := tool.Yarn{}.Name()
		if p.Pm.Value.Kind == platform.PmPnpm {
			kind = tool.Pnpm{}.Name()
		}
		pathDirs = append(pathDirs, filepath.Join(l.ImageDir(kind, p.Pm.Value.Version.String()), "bin"))
	}
	pathDirs = append(pathDirs, l.BinDir())

	newEnv := make([]string, 0, len(env)+2)
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		if strings.HasPrefix(kv, envShimDepth+"=") {
			continue
		}
		newEnv = append(newEnv, kv)
	}
	newEnv = append(newEnv, "PATH="+strings.Join(pathDirs, string(os.PathListSeparator))+string(os.PathListSeparator)+os.Getenv("PATH"))
	newEnv = append(newEnv, fmt.Sprintf("%s=%d", envShimDepth, depth+1))
	return newEnv
}

func ResolveBinaryPath(d Deps, t tool.Tool, p platform.Platform) (string, error) {
	nodeDir := d.Layout.ImageDir(tool.Node{}.Name(), p.Node.Value.String())
	switch v := t.(type) {
	case tool.Node:
		return binaryIn(nodeDir, "node"), nil
	case tool.Npm:
		if p.Npm != nil {
			dir := d.Layout.ImageDir(tool.Npm{}.Name(), p.Npm.Value.String())
			return binaryIn(dir, "npm"), nil
		}
		return binaryIn(nodeDir, "npm"), nil
	case tool.Pnpm, tool.Yarn:
		if p.Pm == nil {
			return "", terrors.NewNoPlatformError()
		}
		kind := v.Name()
		dir := d.Layout.ImageDir(kind, p.Pm.Value.Version.String())
		return binaryIn(dir, v.Name()), nil
	case tool.PackageBin:
		pkg, err := d.UserPkgs.Load(v.PackageName)
		if err != nil || pkg == nil {
			return "", terrors.New(terrors.CategoryState, terrors.CodeStateCorrupt, "package "+v.PackageName+" is not installed")
		}
		for _, bin := range pkg.Bins {
			if bin.Name == v.BinName {
				return filepath.Join(pkg.ImageRoot, bin.PathWithinImage), nil
			}
		}
		return "", terrors.New(terrors.CategoryState, terrors.CodeStateCorrupt, "binary "+v.BinName+" not recorded for "+v.PackageName)
	default:
		return "", terrors.New(terrors.CategoryBug, terrors.CodeBug, "unhandled tool kind in resolveBinaryPath")
	}
}

func binaryIn(dir, name string) string {
	if runtimeIsWindows() {
		return filepath.Join(dir, name+".exe")
	}
	return filepath.Join(dir, "bin", name)
}

func globalPrefixDir(l *layout.Layout, p platform.Platform) string {
	if p.Npm != nil {
		return l.ImageDir(tool.Npm{}.Name(), p.Npm.Value.String())
	}
	return l.ImageDir(tool.Node{}.Name(), p.Node.Value.String())
}

// isGlobalMutation implements spec.md §4.15 step 6's detection: a
// mutating subcommand token plus a -g/--global flag, among argv.
func isGlobalMutation(t tool.Tool, args []string) bool {
	switch t.(type) {
	case tool.Npm, tool.Yarn, tool.Pnpm:
	default:
		return false
	}
	hasToken, hasGlobal := false, false
	for _, a := range args {
		for _, tok := range mutatingTokens {
			if a == tok {
				hasToken = true
			}
		}
		if a == "-g" || a == "--global" {
			hasGlobal = true
		}
	}
	return hasToken && hasGlobal
}

// spawn runs binPath with args and env, forwarding SIGINT to the child
// and awaiting its exit, per spec.md §5's cancellation contract.
func spawn(ctx context.Context, binPath string, args []string, env []string) (int, error) {
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return 0, terrors.Wrap(terrors.CategoryChild, terrors.CodeChildFailed, "starting "+binPath, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case sig := <-sigCh:
			if cmd.Process != nil {
				_ = cmd.Process.Signal(sig)
			}
		case err := <-done:
			if err == nil {
				return 0, nil
			}
			var exitErr *exec.ExitError
			if ok := asExitError(err, &exitErr); ok {
				return exitErr.ExitCode(), nil // ChildFailed is propagated raw, not wrapped
			}
			return 1, terrors.Wrap(terrors.CategoryChild, terrors.CodeChildFailed, "running "+binPath, err)
		}
	}
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// dispatchBypass implements spec.md §4.15's last paragraph:
// TURNSTILE_BYPASS skips the entire pipeline and runs the first matching
// binary on PATH that isn't turnstile's own bin directory. l is only
// used to compute that one path in memory (no tool-home path is read,
// created, or locked), satisfying the spec.md §8 bypass invariant.
func dispatchBypass(l *layout.Layout, name string, args []string) (int, error) {
	ownBinDir := filepath.Clean(l.BinDir())
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if filepath.Clean(dir) == ownBinDir {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			code, err := spawn(context.Background(), candidate, args, os.Environ())
			return code, err
		}
	}
	return 127, fmt.Errorf("%s not found on PATH outside turnstile's bin directory", name)
}

func runtimeIsWindows() bool {
	return os.PathSeparator == '\\'
}
