package vfs

import "strconv"

/*
	Mutating operations. Every operation validates fully before touching
	the tree, then commits with map writes that cannot fail, so a failed
	command leaves no trace and a successful one is visible all at once.
*/

func requireNonRoot(path string) error {
	comps, err := SplitPath(path)
	if err != nil {
		return err
	}
	if len(comps) == 0 {
		return &ErrInvalid{Path: path, Reason: "the root is not a valid destination"}
	}
	return nil
}

func bumpDir(dir *Node, nowMs uint64) {
	dir.Meta.MtimeMs = nowMs
	dir.Meta.CtimeMs = nowMs
}

// createPending materializes the missing intermediate directories of a
// walk site and returns the directory the final entry belongs in.
func createPending(site *walkSite, nowMs uint64) *Node {
	dir := site.parent
	if len(site.pending) > 0 {
		bumpDir(dir, nowMs)
	}
	for _, name := range site.pending {
		child := newDir(nowMs)
		dir.Children[name] = child
		dir = child
	}
	return dir
}

// Echo writes data to the file at path, creating missing parent
// directories and the file itself as needed. With appendMode the data is
// appended instead of replacing the payload. The file's content filter is
// rebuilt from the full resulting payload. Returns the number of bytes
// written.
func (v *Volume) Echo(path string, data []byte, appendMode bool, nowMs uint64) (int, error) {
	if err := requireNonRoot(path); err != nil {
		return 0, err
	}
	site, err := v.walk(path, true)
	if err != nil {
		return 0, err
	}

	if site.existing != nil {
		n := site.existing
		if n.Kind == KindDir {
			return 0, &ErrIsDir{Path: path}
		}
		if appendMode {
			n.Data = append(n.Data, data...)
		} else {
			n.Data = append([]byte(nil), data...)
		}
		n.Filter.Rebuild(n.Data)
		n.Meta.MtimeMs = nowMs
		n.Meta.CtimeMs = nowMs
		return len(data), nil
	}

	dir := createPending(site, nowMs)
	dir.Children[site.name] = newFile(append([]byte(nil), data...), nowMs)
	bumpDir(dir, nowMs)
	return len(data), nil
}

// Touch creates an empty file at path (with missing parents) or, when the
// path already resolves, stamps its access and modification times.
func (v *Volume) Touch(path string, nowMs uint64) error {
	if err := requireNonRoot(path); err != nil {
		return err
	}
	site, err := v.walk(path, true)
	if err != nil {
		return err
	}

	if site.existing != nil {
		n := site.existing
		n.Meta.AtimeMs = nowMs
		n.Meta.MtimeMs = nowMs
		n.Meta.CtimeMs = nowMs
		return nil
	}

	dir := createPending(site, nowMs)
	dir.Children[site.name] = newFile(nil, nowMs)
	bumpDir(dir, nowMs)
	return nil
}

// Mkdir creates a directory. Without parents the parent must already
// exist and any existing node at path fails the call. With parents the
// whole ancestor chain is created as needed and an existing directory at
// path is a success.
func (v *Volume) Mkdir(path string, parents bool, nowMs uint64) error {
	if err := requireNonRoot(path); err != nil {
		return err
	}
	site, err := v.walk(path, false)
	if err != nil {
		if _, notDir := err.(*ErrNotDir); notDir && parents {
			return &ErrExists{Path: path}
		}
		return err
	}

	if site.existing != nil {
		if parents && site.existing.Kind == KindDir {
			return nil
		}
		return &ErrExists{Path: path}
	}
	if len(site.pending) > 0 && !parents {
		return &ErrNoEntry{Path: path}
	}

	dir := createPending(site, nowMs)
	dir.Children[site.name] = newDir(nowMs)
	bumpDir(dir, nowMs)
	return nil
}

// Remove deletes the entry at path and returns the number of nodes
// removed. A symlink is removed as the link itself. A directory with
// children requires recursive; the whole subtree then goes in one step.
func (v *Volume) Remove(path string, recursive bool, nowMs uint64) (int, error) {
	site, err := v.resolveEntry(path)
	if err != nil {
		return 0, err
	}
	if site.existing == nil {
		return 0, &ErrNoEntry{Path: path}
	}
	n := site.existing
	if n.Kind == KindDir && len(n.Children) > 0 && !recursive {
		return 0, &ErrNotEmpty{Path: path}
	}
	count := countSubtree(n)
	delete(site.parent.Children, site.name)
	bumpDir(site.parent, nowMs)
	return count, nil
}

// destination describes where a copy or move lands after directory
// retargeting: parent directory, entry name, and whatever (if anything)
// already occupies that entry.
type destination struct {
	parent   *Node
	name     string
	occupant *Node
}

// resolveDestination applies the shared dst policy: an existing directory
// receives the source under its basename, anything else is the
// destination entry itself. The final symlink of dst is followed.
func (v *Volume) resolveDestination(dst string, srcBase string) (*destination, error) {
	if err := requireNonRoot(dst); err != nil {
		return nil, err
	}
	site, err := v.walk(dst, true)
	if err != nil {
		return nil, err
	}
	if site.existing != nil && site.existing.Kind == KindDir {
		dir := site.existing
		return &destination{parent: dir, name: srcBase, occupant: dir.Children[srcBase]}, nil
	}
	if site.existing != nil {
		return &destination{parent: site.parent, name: site.name, occupant: site.existing}, nil
	}
	if len(site.pending) > 0 {
		return nil, &ErrNoEntry{Path: dst}
	}
	return &destination{parent: site.parent, name: site.name}, nil
}

// checkReplace validates overwriting occupant with a node of srcKind.
func checkReplace(occupant *Node, srcKind Kind, dst string) error {
	if occupant == nil {
		return nil
	}
	if occupant.Kind == KindDir {
		if srcKind != KindDir {
			return &ErrIsDir{Path: dst}
		}
		if len(occupant.Children) > 0 {
			return &ErrNotEmpty{Path: dst}
		}
		return nil
	}
	if srcKind == KindDir {
		return &ErrExists{Path: dst}
	}
	return nil
}

// Copy deep-copies src to dst, preserving mode, owner and the access and
// modification times of every copied node. Content filters of copied
// files are rebuilt from the copied payload. Returns the number of nodes
// copied.
func (v *Volume) Copy(src, dst string, recursive bool, nowMs uint64) (int, error) {
	srcN, err := NormalizePath(src)
	if err != nil {
		return 0, err
	}
	dstN, err := NormalizePath(dst)
	if err != nil {
		return 0, err
	}
	if srcN == dstN {
		return 0, nil
	}

	ssite, err := v.walk(src, false)
	if err != nil {
		return 0, err
	}
	if ssite.existing == nil {
		return 0, &ErrNoEntry{Path: src}
	}
	srcNode := ssite.existing
	if srcNode.Kind == KindDir && !recursive {
		return 0, &ErrIsDir{Path: src}
	}

	d, err := v.resolveDestination(dst, ssite.name)
	if err != nil {
		return 0, err
	}
	if d.occupant == srcNode {
		return 0, nil
	}
	if err := checkReplace(d.occupant, srcNode.Kind, dst); err != nil {
		return 0, err
	}

	clone := cloneSubtree(srcNode, nowMs)
	d.parent.Children[d.name] = clone
	bumpDir(d.parent, nowMs)
	return countSubtree(clone), nil
}

// cloneSubtree deep-copies a subtree iteratively. The copy is built fully
// detached and attached by the caller, so copying a directory into its
// own subtree reads only pre-copy state.
func cloneSubtree(src *Node, nowMs uint64) *Node {
	cloneOne := func(s *Node) *Node {
		n := &Node{Kind: s.Kind, Meta: s.Meta}
		n.Meta.CtimeMs = nowMs
		switch s.Kind {
		case KindDir:
			n.Children = make(map[string]*Node, len(s.Children))
		case KindFile:
			n.Data = append([]byte(nil), s.Data...)
			n.Filter.Rebuild(n.Data)
		case KindSymlink:
			n.Target = s.Target
		}
		return n
	}

	type item struct {
		src    *Node
		parent *Node
		name   string
	}

	root := cloneOne(src)
	var stack []item
	for name, child := range src.Children {
		stack = append(stack, item{src: child, parent: root, name: name})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := cloneOne(it.src)
		it.parent.Children[it.name] = n
		for name, child := range it.src.Children {
			stack = append(stack, item{src: child, parent: n, name: name})
		}
	}
	return root
}

// isWithin reports whether candidate is root itself or lives anywhere in
// root's subtree.
func isWithin(root, candidate *Node) bool {
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == candidate {
			return true
		}
		if n.Kind == KindDir {
			for _, child := range n.Children {
				stack = append(stack, child)
			}
		}
	}
	return false
}

// Move renames src to dst: one atomic detach from the old parent and
// attach to the new one, for nodes of any kind and depth.
func (v *Volume) Move(src, dst string, nowMs uint64) error {
	srcN, err := NormalizePath(src)
	if err != nil {
		return err
	}
	dstN, err := NormalizePath(dst)
	if err != nil {
		return err
	}
	if srcN == dstN {
		return nil
	}

	ssite, err := v.resolveEntry(src)
	if err != nil {
		return err
	}
	if ssite.existing == nil {
		return &ErrNoEntry{Path: src}
	}
	srcNode := ssite.existing

	d, err := v.resolveDestination(dst, ssite.name)
	if err != nil {
		return err
	}
	if d.occupant == srcNode {
		return nil
	}
	if srcNode.Kind == KindDir && isWithin(srcNode, d.parent) {
		return &ErrInvalid{Path: dst, Reason: "destination inside the moved directory"}
	}
	if err := checkReplace(d.occupant, srcNode.Kind, dst); err != nil {
		return err
	}

	delete(ssite.parent.Children, ssite.name)
	d.parent.Children[d.name] = srcNode
	srcNode.Meta.CtimeMs = nowMs
	bumpDir(ssite.parent, nowMs)
	bumpDir(d.parent, nowMs)
	return nil
}

// Chmod parses mode as an octal string, keeps the low twelve bits and
// stores them on the node, following a final symlink.
func (v *Volume) Chmod(path string, mode string, nowMs uint64) error {
	parsed, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return &ErrInvalid{Path: path, Reason: "mode is not an octal string"}
	}
	n, rerr := v.Resolve(path, true)
	if rerr != nil {
		return rerr
	}
	n.Meta.Mode = (n.Meta.Mode &^ ModePermMask) | (uint16(parsed) & ModePermMask)
	n.Meta.CtimeMs = nowMs
	return nil
}

// Chown stores the owner pair on the node, following a final symlink.
func (v *Volume) Chown(path string, uid, gid uint32, nowMs uint64) error {
	n, err := v.Resolve(path, true)
	if err != nil {
		return err
	}
	n.Meta.UID = uid
	n.Meta.GID = gid
	n.Meta.CtimeMs = nowMs
	return nil
}

// Link creates a symbolic link at link holding target verbatim. The
// target is not checked for existence; relative and absolute targets are
// both legal.
func (v *Volume) Link(target, link string, nowMs uint64) error {
	if err := requireNonRoot(link); err != nil {
		return err
	}
	site, err := v.resolveEntry(link)
	if err != nil {
		return err
	}
	if site.existing != nil {
		return &ErrExists{Path: link}
	}
	site.parent.Children[site.name] = newSymlink(target, nowMs)
	bumpDir(site.parent, nowMs)
	return nil
}

// Utimens sets the access and modification times explicitly, following a
// final symlink. Content filters are untouched.
func (v *Volume) Utimens(path string, atimeMs, mtimeMs uint64, nowMs uint64) error {
	n, err := v.Resolve(path, true)
	if err != nil {
		return err
	}
	n.Meta.AtimeMs = atimeMs
	n.Meta.MtimeMs = mtimeMs
	n.Meta.CtimeMs = nowMs
	return nil
}
