package vfs

import "strings"

/*
	Absolute path handling for volume operations.

	A path is the string "/" or one or more non-empty components joined by
	slashes. Runs of slashes collapse, "." components are skipped, and ".."
	pops the previous component, clamped at the root. The canonical string
	form has a single leading slash and no trailing slash (except the root
	itself).
*/

// SplitPath validates an absolute path and returns its normalized
// components. The root path yields an empty slice.
func SplitPath(path string) ([]string, error) {
	if path == "" || path[0] != '/' {
		return nil, &ErrInvalid{Path: path, Reason: "path must be absolute"}
	}
	var comps []string
	for _, c := range strings.Split(path, "/") {
		switch c {
		case "", ".":
			continue
		case "..":
			if len(comps) > 0 {
				comps = comps[:len(comps)-1]
			}
		default:
			comps = append(comps, c)
		}
	}
	return comps, nil
}

// JoinPath renders components back into canonical string form.
func JoinPath(comps []string) string {
	if len(comps) == 0 {
		return "/"
	}
	return "/" + strings.Join(comps, "/")
}

// NormalizePath returns the canonical string form of path.
func NormalizePath(path string) (string, error) {
	comps, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	return JoinPath(comps), nil
}

// splitTarget splits a symlink target into raw components for splicing
// into an in-progress walk. Unlike SplitPath it keeps ".." components,
// since they apply relative to wherever the walk currently stands, and it
// accepts relative targets.
func splitTarget(target string) (comps []string, absolute bool) {
	absolute = strings.HasPrefix(target, "/")
	for _, c := range strings.Split(target, "/") {
		switch c {
		case "", ".":
			continue
		default:
			comps = append(comps, c)
		}
	}
	return comps, absolute
}

// validName reports whether name can be a directory entry.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsRune(name, '/')
}
