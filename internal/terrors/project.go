package terrors

import "strings"

// ProjectError reports a problem discovering or resolving a project's
// manifest: an extends chain that escapes the workspace, or one that
// cycles back on itself. Grounded on the dependency-cycle error shape
// tomei's errors.DependencyError uses for its own resource graph, here
// narrowed to the one cyclic structure this domain has (extends chains).
type ProjectError struct {
	Base     Error    `json:"error"`
	Manifest string   `json:"manifest,omitempty"`
	Chain    []string `json:"chain,omitempty"`
}

// NewExtendsOutsideWorkspaceError reports that an "extends" path resolved
// outside the ancestor/sibling boundary spec.md §4.10 requires.
func NewExtendsOutsideWorkspaceError(manifest, target string) *ProjectError {
	return &ProjectError{
		Base: Error{
			Category: CategoryInput,
			Code:     CodeExtendsOutsideTree,
			Message:  "extends target is outside the workspace",
			Hint:     "\"" + target + "\" must be an ancestor or sibling of " + manifest,
		},
		Manifest: manifest,
	}
}

// NewExtendsCycleError reports that following "extends" references
// returned to a manifest already visited in this chain.
func NewExtendsCycleError(chain []string) *ProjectError {
	return &ProjectError{
		Base: Error{
			Category: CategoryInput,
			Code:     CodeExtendsCycle,
			Message:  "extends chain cycles back on itself: " + strings.Join(chain, " -> "),
		},
		Chain: chain,
	}
}

func (e *ProjectError) Error() string { return e.Base.Error() }
func (e *ProjectError) Unwrap() error { return e.Base.Cause }
func (e *ProjectError) Is(target error) bool {
	t, ok := target.(*ProjectError)
	if !ok {
		return false
	}
	return e.Base.Code == t.Base.Code
}
