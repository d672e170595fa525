package resolver

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnstile-dev/turnstile/internal/platform"
	"github.com/turnstile-dev/turnstile/internal/tool"
)

func sourced(v string, o platform.Origin) platform.Sourced[*semver.Version] {
	return platform.Sourced[*semver.Version]{Value: semver.MustParse(v), Origin: o}
}

func TestResolve_NoPlatformAnywhereErrors(t *testing.T) {
	_, err := Resolve(Request{Tool: tool.Node{}})
	assert.Error(t, err)
}

func TestResolve_DefaultUsedWhenNoProject(t *testing.T) {
	req := Request{
		Tool:    tool.Node{},
		Default: platform.Platform{Node: sourced("20.11.0", platform.OriginDefault)},
	}
	got, err := Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "20.11.0", got.Node.Value.String())
	assert.Equal(t, platform.OriginDefault, got.Node.Origin)
}

func TestResolve_ProjectWinsOverDefault(t *testing.T) {
	req := Request{
		Tool:    tool.Node{},
		Project: platform.Platform{Node: sourced("18.17.1", platform.OriginProject)},
		Default: platform.Platform{Node: sourced("20.11.0", platform.OriginDefault)},
	}
	got, err := Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "18.17.1", got.Node.Value.String())
}

func TestResolve_CommandLineWinsOverProject(t *testing.T) {
	cli := platform.Platform{Node: sourced("21.0.0", platform.OriginCommandLine)}
	req := Request{
		Tool:        tool.Node{},
		Project:     platform.Platform{Node: sourced("18.17.1", platform.OriginProject)},
		Default:     platform.Platform{Node: sourced("20.11.0", platform.OriginDefault)},
		CommandLine: &cli,
	}
	got, err := Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "21.0.0", got.Node.Value.String())
}

func TestResolve_PackageBinUsesItsOwnRecordedPlatform(t *testing.T) {
	pkgPlatform := platform.Platform{Node: sourced("16.20.0", platform.OriginBinary)}
	req := Request{
		Tool:                tool.PackageBin{BinName: "tsx", PackageName: "tsx"},
		Default:             platform.Platform{Node: sourced("20.11.0", platform.OriginDefault)},
		UserPackagePlatform: &pkgPlatform,
	}
	got, err := Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "16.20.0", got.Node.Value.String())
}

func TestResolve_PackageBinWithoutRecordFallsBackToEffective(t *testing.T) {
	req := Request{
		Tool:    tool.PackageBin{BinName: "tsx", PackageName: "tsx"},
		Default: platform.Platform{Node: sourced("20.11.0", platform.OriginDefault)},
	}
	got, err := Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "20.11.0", got.Node.Value.String())
}

func TestResolve_RestoreProjectNodeOverridesPackageNode(t *testing.T) {
	pkgPlatform := platform.Platform{Node: sourced("16.20.0", platform.OriginBinary)}
	req := Request{
		Tool:                tool.PackageBin{BinName: "tsx", PackageName: "tsx"},
		Project:             platform.Platform{Node: sourced("18.17.1", platform.OriginProject)},
		Default:             platform.Platform{Node: sourced("20.11.0", platform.OriginDefault)},
		UserPackagePlatform: &pkgPlatform,
		RestoreProjectNode:  true,
	}
	got, err := Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "18.17.1", got.Node.Value.String(), "TURNSTILE_PROJECT_NODE must override the package's own recorded node")
}

func TestResolve_RestoreProjectNodeNoOpWithoutProject(t *testing.T) {
	pkgPlatform := platform.Platform{Node: sourced("16.20.0", platform.OriginBinary)}
	req := Request{
		Tool:                tool.PackageBin{BinName: "tsx", PackageName: "tsx"},
		Default:             platform.Platform{Node: sourced("20.11.0", platform.OriginDefault)},
		UserPackagePlatform: &pkgPlatform,
		RestoreProjectNode:  true,
	}
	got, err := Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "16.20.0", got.Node.Value.String(), "no project platform to restore from, package's own node stands")
}

func TestResolve_Idempotent(t *testing.T) {
	req := Request{
		Tool:    tool.Node{},
		Project: platform.Platform{Node: sourced("18.17.1", platform.OriginProject)},
		Default: platform.Platform{Node: sourced("20.11.0", platform.OriginDefault)},
	}
	first, err := Resolve(req)
	require.NoError(t, err)
	second, err := Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, first, second, "resolving the same Request twice must yield the same Platform")
}
