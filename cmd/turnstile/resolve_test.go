package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnstile-dev/turnstile/internal/registry"
	"github.com/turnstile-dev/turnstile/internal/run"
	"github.com/turnstile-dev/turnstile/internal/tool"
	"github.com/turnstile-dev/turnstile/internal/versionspec"
)

// stubClient labels itself so tests can assert which RegistryClients
// field clientFor picked, without depending on any real tool family.
type stubClient struct {
	label string
}

func (s stubClient) ResolveSpec(context.Context, versionspec.VersionSpec) (registry.Version, error) {
	return registry.Version{}, nil
}
func (s stubClient) ArchiveURL(context.Context, registry.Version) (string, error) { return "", nil }
func (s stubClient) Latest(context.Context) (registry.Version, error)             { return registry.Version{}, nil }

type stubLTSClient struct{ stubClient }

func (s stubLTSClient) LTS(context.Context) (registry.Version, error) { return registry.Version{}, nil }

func TestClientFor(t *testing.T) {
	deps := run.Deps{Registries: run.RegistryClients{
		Node: stubLTSClient{stubClient{label: "node"}},
		Npm:  stubClient{label: "npm"},
		Yarn: stubClient{label: "yarn"},
		Pnpm: stubClient{label: "pnpm"},
	}}

	got := clientFor(deps, tool.Node{})
	require.NotNil(t, got)
	assert.Equal(t, "node", got.(stubLTSClient).label)

	assert.Equal(t, "npm", clientFor(deps, tool.Npm{}).(stubClient).label)
	assert.Equal(t, "yarn", clientFor(deps, tool.Yarn{}).(stubClient).label)
	assert.Equal(t, "pnpm", clientFor(deps, tool.Pnpm{}).(stubClient).label)

	assert.Nil(t, clientFor(deps, tool.PackageBin{BinName: "tsx", PackageName: "tsx"}))
}

func TestParseAndResolve_PropagatesParseError(t *testing.T) {
	_, err := parseAndResolve(context.Background(), "1.2.3.4.5.not-a-version", stubClient{})
	assert.Error(t, err)
}
