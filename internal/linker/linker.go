// Package linker deploys installed packages into the game's plugins
// directory and removes them again.
package linker

import (
	"deftheim/internal/domain"
)

// Linker deploys and undeploys single files
type Linker interface {
	Deploy(src, dst string) error
	Undeploy(dst string) error
	// IsDeployed reports whether dst currently holds src as deployed by this linker.
	IsDeployed(src, dst string) (bool, error)
	Method() domain.LinkMethod
}

// New creates a linker for the given method
func New(method domain.LinkMethod) Linker {
	switch method {
	case domain.LinkHardlink:
		return NewHardlink()
	case domain.LinkCopy:
		return NewCopy()
	default:
		return NewSymlink()
	}
}
