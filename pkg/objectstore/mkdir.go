package objectstore

import (
	"fmt"
	"strings"

	"github.com/uberallfs/uberallfs/internal/logger"
	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// MkdirOptions control directory creation.
type MkdirOptions struct {
	// Parents creates missing intermediate directories.
	Parents bool

	// Acl makes the new objects PublicAcl instead of Private. Only legal
	// for freshly created objects.
	Acl *Acl

	// Source links an existing directory object (resolved by path lookup)
	// under the new name instead of creating a fresh object.
	Source string
}

// Mkdir creates a directory at path, in the way the CLI exposes it: the
// deepest existing directory is resolved, missing parents are created when
// requested and the final component is linked to a fresh or pre-existing
// directory object.
func Mkdir(s *ObjectStore, path string, opts MkdirOptions) (identifier.Identifier, error) {
	sharing := identifier.Private
	if opts.Acl != nil {
		sharing = identifier.PublicAcl
	}

	src, remaining, err := s.PathLookup(path, nil)
	if err != nil {
		return identifier.Identifier{}, err
	}
	if err := src.EnsureDir(); err != nil {
		return identifier.Identifier{}, err
	}

	if remaining == "" {
		return identifier.Identifier{}, NewObjectExistsError(path)
	}

	components := strings.Split(remaining, "/")

	// create parent dirs
	if len(components) > 1 {
		if !opts.Parents {
			logger.Warn("parent dir missing, no -p given", "name", components[0])
			return identifier.Identifier{}, NewObjectNotFoundError(components[0])
		}
		for _, name := range components[:len(components)-1] {
			logger.Info("create parent", "name", name)
			object, err := Build(identifier.Directory, sharing, identifier.Mutable).
				Acl(opts.Acl).
				Realize(s)
			if err != nil {
				return identifier.Identifier{}, err
			}
			if err := s.CreateLink(object.ID, SubObject{Dir: src, Name: name}); err != nil {
				return identifier.Identifier{}, err
			}
			src = object.ID
		}
	}

	var object *Object
	if opts.Source != "" {
		if opts.Acl != nil {
			return identifier.Identifier{}, fmt.Errorf("ACL can only be used with new objects")
		}
		sourceID, rest, err := s.PathLookup(opts.Source, nil)
		if err != nil {
			return identifier.Identifier{}, err
		}
		if rest != "" {
			logger.Warn("source not found", "path", opts.Source)
			return identifier.Identifier{}, NewObjectNotFoundError(opts.Source)
		}
		if err := sourceID.EnsureDir(); err != nil {
			return identifier.Identifier{}, err
		}
		object = ObjectFrom(sourceID)
	} else {
		object, err = Build(identifier.Directory, sharing, identifier.Mutable).
			Acl(opts.Acl).
			Realize(s)
		if err != nil {
			return identifier.Identifier{}, err
		}
	}

	name := components[len(components)-1]
	if err := s.CreateLink(object.ID, SubObject{Dir: src, Name: name}); err != nil {
		return identifier.Identifier{}, err
	}
	return object.ID, nil
}
