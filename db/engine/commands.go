package engine

import (
	"errors"
	"strconv"
	"strings"

	"github.com/InsulaLabs/rfs/vfs"
)

/*
	The FS.* command table. Every handler receives the argument list
	after the command word, with args[0] being the volume key. Handlers
	that mutate call applied() on success, which persists the volume and
	hands the mutation to the event receiver.

	Reply shapes are the engine's standard set: integer, bulk string,
	array, and flat key/value-pair array, expressed as JSON-encodable
	values.
*/

type handlerFn func(e *Engine, name string, args []string) (any, error)

type command struct {
	minArgs int
	maxArgs int // -1 for unbounded
	fn      handlerFn
}

var commandTable = map[string]*command{
	"FS.ECHO":     {minArgs: 3, maxArgs: 4, fn: echoHandler},
	"FS.APPEND":   {minArgs: 3, maxArgs: 3, fn: appendHandler},
	"FS.CAT":      {minArgs: 2, maxArgs: 2, fn: catHandler},
	"FS.TOUCH":    {minArgs: 2, maxArgs: 2, fn: touchHandler},
	"FS.MKDIR":    {minArgs: 2, maxArgs: 3, fn: mkdirHandler},
	"FS.LS":       {minArgs: 2, maxArgs: 3, fn: lsHandler},
	"FS.RM":       {minArgs: 2, maxArgs: 3, fn: rmHandler},
	"FS.CP":       {minArgs: 3, maxArgs: 4, fn: cpHandler},
	"FS.MV":       {minArgs: 3, maxArgs: 3, fn: mvHandler},
	"FS.FIND":     {minArgs: 3, maxArgs: 5, fn: findHandler},
	"FS.GREP":     {minArgs: 3, maxArgs: 4, fn: grepHandler},
	"FS.STAT":     {minArgs: 2, maxArgs: 2, fn: statHandler},
	"FS.TEST":     {minArgs: 2, maxArgs: 2, fn: testHandler},
	"FS.CHMOD":    {minArgs: 3, maxArgs: 3, fn: chmodHandler},
	"FS.CHOWN":    {minArgs: 4, maxArgs: 4, fn: chownHandler},
	"FS.LN":       {minArgs: 3, maxArgs: 3, fn: lnHandler},
	"FS.READLINK": {minArgs: 2, maxArgs: 2, fn: readlinkHandler},
	"FS.TREE":     {minArgs: 2, maxArgs: 4, fn: treeHandler},
	"FS.INFO":     {minArgs: 1, maxArgs: 1, fn: infoHandler},
	"FS.UTIMENS":  {minArgs: 4, maxArgs: 4, fn: utimensHandler},

	"DEL":    {minArgs: 1, maxArgs: 1, fn: delHandler},
	"EXISTS": {minArgs: 1, maxArgs: 1, fn: existsHandler},
	"KEYS":   {minArgs: 0, maxArgs: 1, fn: keysHandler},
	"MEMORY": {minArgs: 1, maxArgs: 1, fn: memoryHandler},
}

// Do executes one command under the apply mutex. The reply is a
// JSON-encodable value in one of the engine's standard shapes.
func (e *Engine) Do(args ...string) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(args) == 0 {
		return nil, &ErrWrongArgs{Command: ""}
	}
	name := strings.ToUpper(args[0])
	cmd, ok := commandTable[name]
	if !ok {
		return nil, &ErrUnknownCommand{Command: args[0]}
	}
	rest := args[1:]
	if len(rest) < cmd.minArgs || (cmd.maxArgs >= 0 && len(rest) > cmd.maxArgs) {
		return nil, &ErrWrongArgs{Command: name}
	}

	reply, err := cmd.fn(e, name, rest)
	if err != nil {
		e.logger.Debug("command failed", "command", name, "error", err)
		return nil, err
	}
	return reply, nil
}

func (e *Engine) applied(key string, vol *vfs.Volume, command, path string) {
	e.persist(key, vol)
	e.emit(key, command, path)
}

func flagIs(arg, flag string) bool {
	return strings.EqualFold(arg, flag)
}

// -- mutators --

func echoHandler(e *Engine, name string, args []string) (any, error) {
	appendMode := false
	if len(args) == 4 {
		if !flagIs(args[3], "APPEND") {
			return nil, &ErrWrongArgs{Command: name}
		}
		appendMode = true
	}
	vol, fresh, err := e.volumeFor(args[0], true)
	if err != nil {
		return nil, err
	}
	n, err := vol.Echo(args[1], []byte(args[2]), appendMode, e.nowMs())
	if err != nil {
		e.discardFresh(args[0], fresh)
		return nil, err
	}
	e.applied(args[0], vol, name, args[1])
	return int64(n), nil
}

func appendHandler(e *Engine, name string, args []string) (any, error) {
	vol, fresh, err := e.volumeFor(args[0], true)
	if err != nil {
		return nil, err
	}
	n, err := vol.Echo(args[1], []byte(args[2]), true, e.nowMs())
	if err != nil {
		e.discardFresh(args[0], fresh)
		return nil, err
	}
	e.applied(args[0], vol, name, args[1])
	return int64(n), nil
}

func touchHandler(e *Engine, name string, args []string) (any, error) {
	vol, fresh, err := e.volumeFor(args[0], true)
	if err != nil {
		return nil, err
	}
	if err := vol.Touch(args[1], e.nowMs()); err != nil {
		e.discardFresh(args[0], fresh)
		return nil, err
	}
	e.applied(args[0], vol, name, args[1])
	return int64(1), nil
}

func mkdirHandler(e *Engine, name string, args []string) (any, error) {
	parents := false
	if len(args) == 3 {
		if !flagIs(args[2], "PARENTS") {
			return nil, &ErrWrongArgs{Command: name}
		}
		parents = true
	}
	vol, fresh, err := e.volumeFor(args[0], true)
	if err != nil {
		return nil, err
	}
	if err := vol.Mkdir(args[1], parents, e.nowMs()); err != nil {
		e.discardFresh(args[0], fresh)
		return nil, err
	}
	e.applied(args[0], vol, name, args[1])
	return int64(1), nil
}

func rmHandler(e *Engine, name string, args []string) (any, error) {
	recursive := false
	if len(args) == 3 {
		if !flagIs(args[2], "RECURSIVE") {
			return nil, &ErrWrongArgs{Command: name}
		}
		recursive = true
	}
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	count, err := vol.Remove(args[1], recursive, e.nowMs())
	if err != nil {
		return nil, err
	}
	e.applied(args[0], vol, name, args[1])
	return int64(count), nil
}

func cpHandler(e *Engine, name string, args []string) (any, error) {
	recursive := false
	if len(args) == 4 {
		if !flagIs(args[3], "RECURSIVE") {
			return nil, &ErrWrongArgs{Command: name}
		}
		recursive = true
	}
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	count, err := vol.Copy(args[1], args[2], recursive, e.nowMs())
	if err != nil {
		return nil, err
	}
	e.applied(args[0], vol, name, args[2])
	return int64(count), nil
}

func mvHandler(e *Engine, name string, args []string) (any, error) {
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	if err := vol.Move(args[1], args[2], e.nowMs()); err != nil {
		return nil, err
	}
	e.applied(args[0], vol, name, args[2])
	return int64(1), nil
}

func chmodHandler(e *Engine, name string, args []string) (any, error) {
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	if err := vol.Chmod(args[1], args[2], e.nowMs()); err != nil {
		return nil, err
	}
	e.applied(args[0], vol, name, args[1])
	return int64(1), nil
}

func chownHandler(e *Engine, name string, args []string) (any, error) {
	uid, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return nil, &vfs.ErrInvalid{Path: args[1], Reason: "uid is not an unsigned integer"}
	}
	gid, err := strconv.ParseUint(args[3], 10, 32)
	if err != nil {
		return nil, &vfs.ErrInvalid{Path: args[1], Reason: "gid is not an unsigned integer"}
	}
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	if err := vol.Chown(args[1], uint32(uid), uint32(gid), e.nowMs()); err != nil {
		return nil, err
	}
	e.applied(args[0], vol, name, args[1])
	return int64(1), nil
}

func lnHandler(e *Engine, name string, args []string) (any, error) {
	vol, fresh, err := e.volumeFor(args[0], true)
	if err != nil {
		return nil, err
	}
	if err := vol.Link(args[1], args[2], e.nowMs()); err != nil {
		e.discardFresh(args[0], fresh)
		return nil, err
	}
	e.applied(args[0], vol, name, args[2])
	return int64(1), nil
}

func utimensHandler(e *Engine, name string, args []string) (any, error) {
	atime, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return nil, &vfs.ErrInvalid{Path: args[1], Reason: "atime_ms is not an unsigned integer"}
	}
	mtime, err := strconv.ParseUint(args[3], 10, 64)
	if err != nil {
		return nil, &vfs.ErrInvalid{Path: args[1], Reason: "mtime_ms is not an unsigned integer"}
	}
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	if err := vol.Utimens(args[1], atime, mtime, e.nowMs()); err != nil {
		return nil, err
	}
	e.applied(args[0], vol, name, args[1])
	return int64(1), nil
}

// -- readers --

func catHandler(e *Engine, name string, args []string) (any, error) {
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	data, err := vol.Cat(args[1])
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func lsHandler(e *Engine, name string, args []string) (any, error) {
	long := false
	if len(args) == 3 {
		if !flagIs(args[2], "LONG") {
			return nil, &ErrWrongArgs{Command: name}
		}
		long = true
	}
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	if !long {
		names, err := vol.Ls(args[1])
		if err != nil {
			return nil, err
		}
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = n
		}
		return out, nil
	}
	entries, err := vol.LsLong(args[1])
	if err != nil {
		return nil, err
	}
	out := make([]any, len(entries))
	for i, entry := range entries {
		out[i] = []any{
			entry.Name,
			entry.Type,
			strconv.FormatUint(uint64(entry.Mode), 8),
			int64(entry.Size),
			int64(entry.MtimeMs),
		}
	}
	return out, nil
}

func statHandler(e *Engine, name string, args []string) (any, error) {
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	st, err := vol.StatPath(args[1])
	if err != nil {
		return nil, err
	}
	pairs := []any{
		"type", st.Type,
		"mode", int64(st.Mode),
		"uid", int64(st.UID),
		"gid", int64(st.GID),
		"size", int64(st.Size),
		"atime_ms", int64(st.AtimeMs),
		"mtime_ms", int64(st.MtimeMs),
		"ctime_ms", int64(st.CtimeMs),
	}
	if st.HasTarget {
		pairs = append(pairs, "target", st.Target)
	}
	return pairs, nil
}

func testHandler(e *Engine, name string, args []string) (any, error) {
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		var noVolume *ErrNoVolume
		if errors.As(err, &noVolume) {
			return int64(0), nil
		}
		return nil, err
	}
	if vol.Test(args[1]) {
		return int64(1), nil
	}
	return int64(0), nil
}

func readlinkHandler(e *Engine, name string, args []string) (any, error) {
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	target, err := vol.Readlink(args[1])
	if err != nil {
		return nil, err
	}
	return target, nil
}

func treeHandler(e *Engine, name string, args []string) (any, error) {
	depth := 0
	if len(args) > 2 {
		if len(args) != 4 || !flagIs(args[2], "DEPTH") {
			return nil, &ErrWrongArgs{Command: name}
		}
		n, err := strconv.Atoi(args[3])
		if err != nil || n < 1 {
			return nil, &vfs.ErrInvalid{Path: args[1], Reason: "depth must be a positive integer"}
		}
		depth = n
	}
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	tn, err := vol.Tree(args[1], depth)
	if err != nil {
		return nil, err
	}
	return renderTree(tn), nil
}

func infoHandler(e *Engine, name string, args []string) (any, error) {
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	info := vol.Info()
	return []any{
		"files", int64(info.Files),
		"directories", int64(info.Directories),
		"symlinks", int64(info.Symlinks),
		"total_bytes", int64(info.TotalBytes),
	}, nil
}

// -- search --

func findHandler(e *Engine, name string, args []string) (any, error) {
	typeFilter := ""
	if len(args) > 3 {
		if len(args) != 5 || !flagIs(args[3], "TYPE") {
			return nil, &ErrWrongArgs{Command: name}
		}
		typeFilter = strings.ToLower(args[4])
	}
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	paths, err := vol.Find(args[1], args[2], typeFilter)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(paths))
	for i, p := range paths {
		out[i] = p
	}
	return out, nil
}

func grepHandler(e *Engine, name string, args []string) (any, error) {
	nocase := false
	if len(args) == 4 {
		if !flagIs(args[3], "NOCASE") {
			return nil, &ErrWrongArgs{Command: name}
		}
		nocase = true
	}
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	matches, err := vol.Grep(args[1], args[2], nocase)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = []any{m.Path, int64(m.Line), m.Text}
	}
	return out, nil
}

// -- engine commands --

func delHandler(e *Engine, name string, args []string) (any, error) {
	existed, err := e.drop(args[0])
	if err != nil {
		return nil, err
	}
	if existed {
		e.emit(args[0], name, "/")
		return int64(1), nil
	}
	return int64(0), nil
}

func existsHandler(e *Engine, name string, args []string) (any, error) {
	_, _, err := e.volumeFor(args[0], false)
	if err != nil {
		var noVolume *ErrNoVolume
		if errors.As(err, &noVolume) {
			return int64(0), nil
		}
		return nil, err
	}
	return int64(1), nil
}

func keysHandler(e *Engine, name string, args []string) (any, error) {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	keys, err := e.store.Keys(prefix, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out, nil
}

func memoryHandler(e *Engine, name string, args []string) (any, error) {
	vol, _, err := e.volumeFor(args[0], false)
	if err != nil {
		return nil, err
	}
	return int64(vol.EstimateSize()), nil
}

// renderTree flattens the nested listing into the reply shape: an
// expanded directory is a [name, children] pair, anything else is its
// bare name. Iterative, since directories nest arbitrarily.
func renderTree(root *vfs.TreeNode) any {
	if !root.Dir || root.Children == nil {
		return root.Name
	}
	type frame struct {
		tn   *vfs.TreeNode
		out  []any
		next int
	}
	stack := []frame{{tn: root, out: make([]any, 0, len(root.Children))}}
	var result any
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next < len(f.tn.Children) {
			child := &f.tn.Children[f.next]
			f.next++
			if child.Dir && child.Children != nil {
				stack = append(stack, frame{tn: child, out: make([]any, 0, len(child.Children))})
			} else {
				f.out = append(f.out, child.Name)
			}
			continue
		}
		pair := []any{f.tn.Name, f.out}
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			result = pair
		} else {
			parent := &stack[len(stack)-1]
			parent.out = append(parent.out, pair)
		}
	}
	return result
}
