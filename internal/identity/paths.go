package identity

import (
	"net/url"
	"strings"
)

// PossiblePaths expands name into the service names a preference may be
// stored under, most specific first. A hierarchical URL loses its query
// and then one path segment per step; any other name yields itself only.
// A fragment is kept on the first candidate but not on its parents.
//
//	https://example.com/a/b?x=1#f -> https://example.com/a/b#f
//	                                 https://example.com/a/
//	                                 https://example.com/
func PossiblePaths(name string) []string {
	if name == "" {
		return nil
	}
	u, err := url.Parse(name)
	if err != nil || u.Scheme == "" || u.Opaque != "" {
		return []string{name}
	}

	frag := len(name)
	if i := strings.IndexByte(name, '#'); i >= 0 {
		frag = i
	}
	if i := strings.IndexByte(name[:frag], '?'); i >= 0 {
		name = name[:i] + name[frag:]
		frag = i
	}
	paths := []string{name}

	path := u.EscapedPath()
	origin, ok := strings.CutSuffix(name[:frag], path)
	if !ok {
		return paths
	}
	for path != "" && path != "/" {
		trimmed := strings.TrimSuffix(path, "/")
		i := strings.LastIndexByte(trimmed, '/')
		if i < 0 {
			break
		}
		path = trimmed[:i+1]
		paths = append(paths, origin+path)
	}
	return paths
}
