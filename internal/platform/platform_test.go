package platform

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
)

func node(v string, o Origin) Sourced[*semver.Version] {
	return Sourced[*semver.Version]{Value: semver.MustParse(v), Origin: o}
}

func TestMerge_ProjectWinsWhenPresent(t *testing.T) {
	project := Platform{Node: node("18.17.1", OriginProject)}
	fallback := Platform{Node: node("20.11.0", OriginDefault)}

	got := Merge(project, fallback)
	assert.Equal(t, "18.17.1", got.Node.Value.String())
	assert.Equal(t, OriginProject, got.Node.Origin)
}

func TestMerge_FallsBackWhenProjectEmpty(t *testing.T) {
	fallback := Platform{Node: node("20.11.0", OriginDefault)}

	got := Merge(Platform{}, fallback)
	assert.Equal(t, "20.11.0", got.Node.Value.String())
}

func TestMerge_NpmFollowsNodePresenceNotIndependently(t *testing.T) {
	// Project pins node but not npm; fallback has both node and npm.
	// The merged result must NOT inherit fallback.Npm -- absence of
	// npm alongside a pinned node means "use bundled npm".
	project := Platform{Node: node("18.17.1", OriginProject)}
	npmVal := node("9.0.0", OriginDefault)
	fallback := Platform{Node: node("20.11.0", OriginDefault), Npm: &npmVal}

	got := Merge(project, fallback)
	assert.Equal(t, "18.17.1", got.Node.Value.String())
	assert.Nil(t, got.Npm, "npm must follow specific's own Npm field, not leak from fallback")
}

func TestDescribe_BundledNpm(t *testing.T) {
	p := Platform{Node: node("20.11.0", OriginProject)}
	assert.Contains(t, p.Describe(), "npm bundled")
}

func TestDescribe_ZeroPlatform(t *testing.T) {
	assert.Equal(t, "no platform resolved", Platform{}.Describe())
}
