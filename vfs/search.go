package vfs

import "sort"

// GrepMatch is one matching line of a content search.
type GrepMatch struct {
	Path string
	Line int
	Text string
}

func childPath(base, name string) string {
	if base == "/" {
		return "/" + name
	}
	return base + "/" + name
}

// searchFrame pairs a node with its absolute path for the iterative
// subtree walks below.
type searchFrame struct {
	node *Node
	path string
}

// pushChildrenReversed stacks a directory's children so a LIFO walk
// visits them in ascending byte order. Symlinks are enumerated but never
// traversed.
func pushChildrenReversed(stack []searchFrame, dir *Node, base string) []searchFrame {
	names := dir.EntryNames()
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names {
		stack = append(stack, searchFrame{node: dir.Children[name], path: childPath(base, name)})
	}
	return stack
}

// Find walks the subtree at root depth-first and returns the absolute
// paths of nodes whose basename matches pattern. typeFilter narrows the
// results to "file", "dir" or "symlink"; empty means every kind.
func (v *Volume) Find(root, pattern, typeFilter string) ([]string, error) {
	var want Kind
	filtered := typeFilter != ""
	switch typeFilter {
	case "":
	case "file":
		want = KindFile
	case "dir":
		want = KindDir
	case "symlink":
		want = KindSymlink
	default:
		return nil, &ErrInvalid{Path: root, Reason: "unknown type filter " + typeFilter}
	}

	start, err := v.Resolve(root, true)
	if err != nil {
		return nil, err
	}
	base, err := NormalizePath(root)
	if err != nil {
		return nil, err
	}

	matches := []string{}
	stack := []searchFrame{{node: start, path: base}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		name := ""
		if f.path != "/" {
			name = f.path[lastSlash(f.path)+1:]
		}
		if (!filtered || f.node.Kind == want) && Match(pattern, name, false) {
			matches = append(matches, f.path)
		}
		if f.node.Kind == KindDir {
			stack = pushChildrenReversed(stack, f.node, f.path)
		}
	}
	return matches, nil
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

// splitLines cuts a payload into newline-delimited lines. A final line
// without a trailing newline is included; a trailing newline does not
// produce an empty extra line.
func splitLines(payload []byte) []string {
	var lines []string
	start := 0
	for i := 0; i < len(payload); i++ {
		if payload[i] == '\n' {
			lines = append(lines, string(payload[start:i]))
			start = i + 1
		}
	}
	if start < len(payload) {
		lines = append(lines, string(payload[start:]))
	}
	return lines
}

// Grep walks the subtree at root and glob-matches pattern against every
// line of every file. Files are pruned through their content filters
// first: any literal fragment of the pattern the filter rules out skips
// the file without touching its payload. nocase folds ASCII letters in
// both pruning and matching.
func (v *Volume) Grep(root, pattern string, nocase bool) ([]GrepMatch, error) {
	start, err := v.Resolve(root, true)
	if err != nil {
		return nil, err
	}
	base, err := NormalizePath(root)
	if err != nil {
		return nil, err
	}

	fragments := LiteralTokens(pattern)

	matches := []GrepMatch{}
	stack := []searchFrame{{node: start, path: base}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.node.Kind == KindDir {
			stack = pushChildrenReversed(stack, f.node, f.path)
			continue
		}
		if f.node.Kind != KindFile {
			continue
		}

		pruned := false
		for _, frag := range fragments {
			if !f.node.Filter.MayHave(frag, nocase) {
				pruned = true
				break
			}
		}
		if pruned {
			continue
		}

		for i, line := range splitLines(f.node.Data) {
			if Match(pattern, line, nocase) {
				matches = append(matches, GrepMatch{Path: f.path, Line: i + 1, Text: line})
			}
		}
	}
	return matches, nil
}
