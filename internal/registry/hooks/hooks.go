// Package hooks implements hooks.json: user-configurable rewrites of the
// URLs the registry clients would otherwise hit on their own, and the
// external-command form that replaces a lookup entirely: a URL prefix
// rewrite, a URL template, or a command whose stdout supplies the
// result.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/turnstile-dev/turnstile/internal/terrors"
)

// Slot names the kind of lookup a hook can override.
type Slot string

const (
	SlotIndex  Slot = "index"
	SlotDistro Slot = "distro"
	SlotLatest Slot = "latest"
)

// Tool names the registry family a hook set applies to.
type Tool string

const (
	ToolNode Tool = "node"
	ToolYarn Tool = "yarn"
	ToolPnpm Tool = "pnpm"
	ToolNpm  Tool = "npm"
)

// Hook is one of Prefix, Template, or Bin. Exactly one field is set; which
// one is determined by which key was present in the JSON object.
type Hook struct {
	Prefix   string   `json:"prefix,omitempty"`
	Template string   `json:"template,omitempty"`
	Bin      string   `json:"bin,omitempty"`
	Args     []string `json:"args,omitempty"`
}

func (h Hook) isZero() bool {
	return h.Prefix == "" && h.Template == "" && h.Bin == ""
}

// ToolHooks holds the three slots one tool family may override.
type ToolHooks struct {
	Index  *Hook `json:"index,omitempty"`
	Distro *Hook `json:"distro,omitempty"`
	Latest *Hook `json:"latest,omitempty"`
}

func (t *ToolHooks) slot(s Slot) *Hook {
	if t == nil {
		return nil
	}
	switch s {
	case SlotIndex:
		return t.Index
	case SlotDistro:
		return t.Distro
	case SlotLatest:
		return t.Latest
	default:
		return nil
	}
}

// EventHooks holds non-registry hooks; turnstile only exercises the shape,
// the publish event itself is handled by the external event-hook reporter
// per spec.md's out-of-scope list.
type EventHooks struct {
	Publish *Hook `json:"publish,omitempty"`
}

// Document is the parsed contents of one hooks.json file.
type Document struct {
	Node   *ToolHooks  `json:"node,omitempty"`
	Yarn   *ToolHooks  `json:"yarn,omitempty"`
	Pnpm   *ToolHooks  `json:"pnpm,omitempty"`
	Npm    *ToolHooks  `json:"npm,omitempty"`
	Events *EventHooks `json:"events,omitempty"`
}

func (d *Document) toolHooks(tool Tool) *ToolHooks {
	if d == nil {
		return nil
	}
	switch tool {
	case ToolNode:
		return d.Node
	case ToolYarn:
		return d.Yarn
	case ToolPnpm:
		return d.Pnpm
	case ToolNpm:
		return d.Npm
	default:
		return nil
	}
}

// Parse decodes one hooks.json document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, terrors.New(terrors.CategoryInput, terrors.CodeInvalidManifest, "parsing hooks.json: "+err.Error())
	}
	return &doc, nil
}

// Vars supplies the substitution values available to a Template hook.
type Vars struct {
	Version  string
	Filename string
	Ext      string
	OS       string
	Arch     string
}

func (v Vars) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{{version}}", v.Version,
		"{{filename}}", v.Filename,
		"{{ext}}", v.Ext,
		"{{os}}", v.OS,
		"{{arch}}", v.Arch,
	)
}

// Resolver walks a chain of hooks.json documents from project scope (index
// 0, highest priority) to user scope (last) and applies the first Hook
// found in a given slot.
type Resolver struct {
	docs []*Document
}

// NewResolver builds a Resolver from documents ordered most-specific
// (project) to least-specific (user). A nil entry is skipped.
func NewResolver(docs ...*Document) *Resolver {
	return &Resolver{docs: docs}
}

// Apply rewrites defaultURL for (tool, slot) if any scope defines a
// matching hook, in priority order. Bin hooks run the configured command,
// passing vars as TURNSTILE_HOOK_* environment variables, and take its
// trimmed stdout as the result; all other hooks rewrite defaultURL.
func (r *Resolver) Apply(ctx context.Context, tool Tool, slot Slot, defaultURL string, vars Vars) (string, error) {
	for _, doc := range r.docs {
		h := doc.toolHooks(tool).slot(slot)
		if h == nil || h.isZero() {
			continue
		}
		return apply(ctx, *h, defaultURL, vars)
	}
	return defaultURL, nil
}

func apply(ctx context.Context, h Hook, defaultURL string, vars Vars) (string, error) {
	switch {
	case h.Bin != "":
		return runBin(ctx, h, vars)
	case h.Template != "":
		return vars.replacer().Replace(h.Template), nil
	case h.Prefix != "":
		return rewritePrefix(h.Prefix, defaultURL), nil
	default:
		return defaultURL, nil
	}
}

// rewritePrefix replaces everything up to and including the registry host
// in defaultURL with prefix, keeping the path that follows it.
func rewritePrefix(prefix, defaultURL string) string {
	idx := strings.Index(defaultURL, "://")
	if idx < 0 {
		return prefix
	}
	rest := defaultURL[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return strings.TrimSuffix(prefix, "/")
	}
	return strings.TrimSuffix(prefix, "/") + rest[slash:]
}

func runBin(ctx context.Context, h Hook, vars Vars) (string, error) {
	cmd := exec.CommandContext(ctx, h.Bin, h.Args...)
	cmd.Env = append(os.Environ(),
		"TURNSTILE_HOOK_VERSION="+vars.Version,
		"TURNSTILE_HOOK_FILENAME="+vars.Filename,
		"TURNSTILE_HOOK_EXT="+vars.Ext,
		"TURNSTILE_HOOK_OS="+vars.OS,
		"TURNSTILE_HOOK_ARCH="+vars.Arch,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return "", terrors.Wrap(terrors.CategoryRegistry, terrors.CodeRegistryFetchFailed, fmt.Sprintf("hook command %q failed", h.Bin), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
