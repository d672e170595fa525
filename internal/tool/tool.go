// Package tool defines the closed set of things turnstile can install
// and run: the built-in runtime/package-manager quartet, plus
// user-installed npm packages and the binaries they expose.
package tool

// Tool is a closed sum type implemented by the concrete kinds below.
// Exhaustiveness at call sites (env building, image layout, shim
// dispatch) is checked with a type switch that a linter can flag for
// missing cases; Go has no sealed interfaces, so this is enforced by
// convention plus the unexported method, which prevents other packages
// from inventing new kinds.
type Tool interface {
	// Name is the on-disk/display identifier, e.g. "node", "npm",
	// "typescript" (for a package) or "tsc" (for a package binary).
	Name() string
	tool()
}

type Node struct{}

func (Node) Name() string { return "node" }
func (Node) tool()        {}

type Npm struct{}

func (Npm) Name() string { return "npm" }
func (Npm) tool()        {}

type Pnpm struct{}

func (Pnpm) Name() string { return "pnpm" }
func (Pnpm) tool()        {}

type Yarn struct{}

func (Yarn) Name() string { return "yarn" }
func (Yarn) tool()        {}

// Package is a globally installed npm package, identified by its
// registry name (e.g. "typescript").
type Package struct {
	PackageName string
}

func (p Package) Name() string { return p.PackageName }
func (Package) tool()          {}

// PackageBin is one binary a Package declares (e.g. "tsc" from
// "typescript"). Run dispatch looks these up by binary name, not
// package name, since that's what argv[0] carries.
type PackageBin struct {
	BinName     string
	PackageName string
}

func (b PackageBin) Name() string { return b.BinName }
func (PackageBin) tool()          {}

// BuiltIns is the fixed set of shim names turnstile always recognizes,
// independent of any installed package.
var BuiltIns = []Tool{Node{}, Npm{}, Pnpm{}, Yarn{}}

// ParseBuiltIn maps an invocation name to its built-in Tool, including
// the secondary names npx/yarnpkg that don't equal their Tool's Name().
func ParseBuiltIn(name string) (Tool, bool) {
	switch name {
	case "node":
		return Node{}, true
	case "npm", "npx":
		return Npm{}, true
	case "pnpm", "pnpx":
		return Pnpm{}, true
	case "yarn", "yarnpkg":
		return Yarn{}, true
	default:
		return nil, false
	}
}

// Image reports the underlying installable image a Tool resolves to:
// Node and Npm/Pnpm/Yarn each have their own image directory, a
// PackageBin shares its Package's image, and Package itself has no
// separate Run path (only its bins do).
func Image(t Tool) string {
	switch v := t.(type) {
	case PackageBin:
		return v.PackageName
	default:
		return t.Name()
	}
}
