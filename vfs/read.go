package vfs

/*
	Read-only operations. None of these touch atime; access times move
	only through the explicit time-setting commands.
*/

// Entry is one row of a long directory listing.
type Entry struct {
	Name    string
	Type    string
	Mode    uint16
	Size    uint64
	MtimeMs uint64
}

// Stat is the full metadata view of a node. Target is only meaningful
// when HasTarget is set, which happens for symlinks alone.
type Stat struct {
	Type      string
	Mode      uint16
	UID       uint32
	GID       uint32
	Size      uint64
	AtimeMs   uint64
	MtimeMs   uint64
	CtimeMs   uint64
	Target    string
	HasTarget bool
}

// TreeNode is one node of a depth-bounded tree listing. Children is
// non-nil for every directory that was expanded; a directory sitting at
// the depth cutoff keeps a nil Children and renders as a plain name.
type TreeNode struct {
	Name     string
	Dir      bool
	Children []TreeNode
}

// VolumeInfo summarizes a volume: node counts per kind and the sum of
// file payload sizes.
type VolumeInfo struct {
	Files       int
	Directories int
	Symlinks    int
	TotalBytes  uint64
}

// Cat returns the full payload of the file at path, following a final
// symlink.
func (v *Volume) Cat(path string) ([]byte, error) {
	n, err := v.Resolve(path, true)
	if err != nil {
		return nil, err
	}
	if n.Kind == KindDir {
		return nil, &ErrIsDir{Path: path}
	}
	return n.Data, nil
}

// Ls lists the directory at path in ascending byte order.
func (v *Volume) Ls(path string) ([]string, error) {
	n, err := v.Resolve(path, true)
	if err != nil {
		return nil, err
	}
	if n.Kind != KindDir {
		return nil, &ErrNotDir{Path: path}
	}
	return n.EntryNames(), nil
}

// LsLong lists the directory at path with per-entry metadata, in the
// same order Ls uses.
func (v *Volume) LsLong(path string) ([]Entry, error) {
	n, err := v.Resolve(path, true)
	if err != nil {
		return nil, err
	}
	if n.Kind != KindDir {
		return nil, &ErrNotDir{Path: path}
	}
	names := n.EntryNames()
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		child := n.Children[name]
		entries = append(entries, Entry{
			Name:    name,
			Type:    child.Kind.String(),
			Mode:    child.Meta.Mode,
			Size:    child.Size(),
			MtimeMs: child.Meta.MtimeMs,
		})
	}
	return entries, nil
}

// StatPath reports the metadata of the node at path without following a
// final symlink.
func (v *Volume) StatPath(path string) (*Stat, error) {
	n, err := v.Resolve(path, false)
	if err != nil {
		return nil, err
	}
	st := &Stat{
		Type:    n.Kind.String(),
		Mode:    n.Meta.Mode,
		UID:     n.Meta.UID,
		GID:     n.Meta.GID,
		Size:    n.Size(),
		AtimeMs: n.Meta.AtimeMs,
		MtimeMs: n.Meta.MtimeMs,
		CtimeMs: n.Meta.CtimeMs,
	}
	if n.Kind == KindSymlink {
		st.Target = n.Target
		st.HasTarget = true
	}
	return st, nil
}

// Test reports whether path resolves with the final symlink followed. No
// resolution error escapes; they all read as "not there".
func (v *Volume) Test(path string) bool {
	_, err := v.Resolve(path, true)
	return err == nil
}

// Readlink returns the stored target of the symlink at path, verbatim.
func (v *Volume) Readlink(path string) (string, error) {
	n, err := v.Resolve(path, false)
	if err != nil {
		return "", err
	}
	if n.Kind != KindSymlink {
		return "", &ErrNotLink{Path: path}
	}
	return n.Target, nil
}

// Tree builds a nested listing rooted at path. depth bounds the
// expansion (1 lists immediate children); any depth below one means
// unbounded. The walk is iterative; directories may nest arbitrarily.
func (v *Volume) Tree(path string, depth int) (*TreeNode, error) {
	n, err := v.Resolve(path, true)
	if err != nil {
		return nil, err
	}
	comps, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	name := ""
	if len(comps) > 0 {
		name = comps[len(comps)-1]
	}

	root := &TreeNode{Name: name, Dir: n.Kind == KindDir}
	if n.Kind != KindDir {
		return root, nil
	}

	type frame struct {
		node  *Node
		tn    *TreeNode
		depth int
	}
	stack := []frame{{node: n, tn: root, depth: depth}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		names := f.node.EntryNames()
		f.tn.Children = make([]TreeNode, len(names))
		for i, childName := range names {
			child := f.node.Children[childName]
			f.tn.Children[i] = TreeNode{Name: childName, Dir: child.Kind == KindDir}
			if child.Kind != KindDir {
				continue
			}
			if f.depth == 1 {
				continue
			}
			next := f.depth - 1
			if f.depth < 1 {
				next = f.depth
			}
			stack = append(stack, frame{node: child, tn: &f.tn.Children[i], depth: next})
		}
	}
	return root, nil
}

// Info counts the volume's nodes (the root directory included) and sums
// file payload bytes.
func (v *Volume) Info() VolumeInfo {
	var info VolumeInfo
	stack := []*Node{v.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch n.Kind {
		case KindDir:
			info.Directories++
			for _, child := range n.Children {
				stack = append(stack, child)
			}
		case KindFile:
			info.Files++
			info.TotalBytes += uint64(len(n.Data))
		case KindSymlink:
			info.Symlinks++
		}
	}
	return info
}
