package objectstore

import (
	"regexp"
	"strings"

	"github.com/uberallfs/uberallfs/pkg/identifier"
)

// ReservedPrefix tags a symlink target as a child-of-directory reference.
// User-visible names starting with it are rejected.
const ReservedPrefix = ".uberallfs."

// objectPath returns the store-relative path of an object:
// "<aa>/<full-id>".
func objectPath(id identifier.Identifier) string {
	return id.Shard() + "/" + id.String()
}

// subObjectPath returns the store-relative path of an entry in a directory
// object: "<aa>/<full-id>/<name>".
func subObjectPath(sub SubObject) string {
	return objectPath(sub.Dir) + "/" + sub.Name
}

// linkTarget returns the symlink target for a child reference:
// ".uberallfs.<full-id>".
func linkTarget(id identifier.Identifier) string {
	return ReservedPrefix + id.String()
}

// parseLinkTarget recovers the child identifier from a symlink target.
func parseLinkTarget(target string) (identifier.Identifier, error) {
	if !strings.HasPrefix(target, ReservedPrefix) {
		return identifier.Identifier{}, NewFatalError("symlink target without reserved prefix: " + target)
	}
	return identifier.Parse(target[len(ReservedPrefix):])
}

// pathRe splits the two accepted path forms: "/rest" rooted at the store
// root and "<prefix>//rest" rooted at an abbreviated identifier.
var pathRe = regexp.MustCompile(`^(?:([^/]{4,44})/|)/(.*)$`)

// splitPath separates the identifier prefix (empty for root-relative paths)
// from the rest of the path.
func splitPath(path string) (prefix, rest string, err error) {
	m := pathRe.FindStringSubmatch(path)
	if m == nil {
		return "", "", NewInvalidPathError(path)
	}
	return m[1], m[2], nil
}

// normalizeComponents removes "." elements and resolves ".." against the
// accumulated path. Ascending above the first component is NoParent.
func normalizeComponents(path string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(path, "/") {
		switch p {
		case "", ".":
		case "..":
			if len(out) == 0 {
				return nil, NewNoParentError()
			}
			out = out[:len(out)-1]
		default:
			out = append(out, p)
		}
	}
	return out, nil
}

// NormalizePath normalizes a store-relative path. Normalization is
// idempotent: NormalizePath(NormalizePath(p)) == NormalizePath(p).
func NormalizePath(path string) (string, error) {
	components, err := normalizeComponents(path)
	if err != nil {
		return "", err
	}
	return strings.Join(components, "/"), nil
}
