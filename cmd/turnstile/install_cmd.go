package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/turnstile-dev/turnstile/internal/bootstrap"
	"github.com/turnstile-dev/turnstile/internal/install"
	"github.com/turnstile-dev/turnstile/internal/registry"
	"github.com/turnstile-dev/turnstile/internal/registry/hooks"
	"github.com/turnstile-dev/turnstile/internal/registry/npmlike"
	"github.com/turnstile-dev/turnstile/internal/run"
	"github.com/turnstile-dev/turnstile/internal/userpkgs"
)

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <tool>@<spec>",
		Short: "Install a Node/npm/Yarn/pnpm image, or a global package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, spec := parseToolSpec(args[0])
			if spec == "" {
				spec = "latest"
			}

			deps, _, err := bootstrap.Build()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if t, ok := builtInFamily(name); ok {
				client := clientFor(deps, t)
				vs, err := resolveRegistryVersion(ctx, spec, client)
				if err != nil {
					return err
				}
				if err := installWithProgress(ctx, deps, name, vs, client); err != nil {
					return err
				}
				fmt.Printf("%s installed %s@%s\n", color.GreenString("✓"), name, vs.Num.String())
				return nil
			}

			return installPackage(ctx, deps, name, spec)
		},
	}
}

// installWithProgress wraps Installer.Ensure with an mpb download bar,
// grounded on tomei's internal/ui.ProgressManager.handleDownloadStart
// (AddBar/SetTotal/SetCurrent driven by a download callback).
func installWithProgress(ctx context.Context, deps run.Deps, kind string, vs registry.Version, client registry.Client) error {
	progress := mpb.New(mpb.WithOutput(os.Stderr))
	bar := progress.AddBar(0,
		mpb.BarFillerClearOnComplete(),
		mpb.PrependDecorators(decor.Name(fmt.Sprintf("%s@%s", kind, vs.Num.String()))),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f"),
			decor.OnComplete(decor.Name(""), " done"),
		),
	)
	target := install.Target{
		Kind:    kind,
		Version: vs,
		Client:  client,
		Progress: func(read, total int64) {
			if total > 0 {
				bar.SetTotal(total, false)
			}
			bar.SetCurrent(read)
		},
	}
	err := deps.Installer.Ensure(ctx, target)
	if err != nil {
		bar.Abort(true)
		progress.Wait()
		return err
	}
	bar.SetTotal(bar.Current(), true)
	progress.Wait()
	return nil
}

// installPackage implements the CLI side of `install <pkg>@<spec>`: it
// fetches the package's own npm-registry tarball directly into
// turnstile's content-addressed image store (keyed by package name
// rather than a built-in tool kind), then reads the unpacked
// package.json to register bins and shims. This is distinct from the
// GlobalInterceptor path in internal/global, which instead observes
// files an npm/yarn/pnpm child process already placed on disk.
func installPackage(ctx context.Context, deps run.Deps, name, spec string) error {
	client := npmlike.New(deps.Fetcher, hooks.NewResolver(), hooks.ToolNpm, name)

	vs, err := resolveRegistryVersion(ctx, spec, client)
	if err != nil {
		return err
	}
	if err := installWithProgress(ctx, deps, name, vs, client); err != nil {
		return err
	}

	imageRoot := deps.Layout.ImageDir(name, vs.Num.String())
	manifestData, err := os.ReadFile(filepath.Join(imageRoot, "package.json"))
	if err != nil {
		return fmt.Errorf("reading package.json from installed %s@%s: %w", name, vs.Num.String(), err)
	}
	var manifest struct {
		Name string          `json:"name"`
		Bin  json.RawMessage `json:"bin,omitempty"`
	}
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return fmt.Errorf("parsing package.json for %s: %w", name, err)
	}

	bins := decodeBinField(manifest.Bin, name)
	if len(bins) == 0 {
		fmt.Printf("%s installed %s@%s (no binaries declared)\n", color.GreenString("✓"), name, vs.Num.String())
		return nil
	}

	platform, err := resolveDefaultPlatform(ctx, deps)
	if err != nil {
		return err
	}

	entries := make([]userpkgs.BinaryEntry, 0, len(bins))
	targets := make(map[string]string, len(bins))
	for binName, relPath := range bins {
		entries = append(entries, userpkgs.BinaryEntry{
			Name:            binName,
			Package:         name,
			Loader:          loaderForPath(relPath),
			PathWithinImage: relPath,
		})
		targets[binName] = filepath.Join(imageRoot, relPath)
	}

	pkg := userpkgs.UserPackage{Name: name, Version: vs.Num.String(), ImageRoot: imageRoot, Bins: entries}
	pkg.Platform.Node = platform.Node.Value.String()
	if platform.Npm != nil {
		pkg.Platform.Npm = platform.Npm.Value.String()
	}
	if platform.Pm != nil {
		pkg.Platform.Pm = platform.Pm.Value.Version.String()
		pkg.Platform.Yarn = string(platform.Pm.Value.Kind)
	}

	if err := deps.UserPkgs.Install(ctx, pkg, targets); err != nil {
		return err
	}
	fmt.Printf("%s installed %s@%s (%d binaries)\n", color.GreenString("✓"), name, vs.Num.String(), len(entries))
	return nil
}

func decodeBinField(raw json.RawMessage, pkgName string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil
		}
		return map[string]string{pkgName: asString}
	}
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap
	}
	return nil
}

func loaderForPath(relPath string) userpkgs.Loader {
	switch filepath.Ext(relPath) {
	case ".js", ".cjs", ".mjs":
		return userpkgs.LoaderScript
	default:
		return userpkgs.LoaderBinary
	}
}
