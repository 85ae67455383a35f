package vfs

import (
	"encoding/binary"

	"github.com/InsulaLabs/rfs/fbloom"
)

// TypeName is the fixed tag identifying this value type to the host
// engine.
const TypeName = "redis-fs0"

// SerdeVersion is the current stream version. Unknown versions are
// refused outright rather than read best-effort.
const SerdeVersion uint16 = 1

var serdeMagic = [4]byte{'R', 'F', 'S', 'v'}

const (
	tagDir     byte = 0
	tagFile    byte = 1
	tagSymlink byte = 2
)

/*
	Stream layout, all integers little-endian:

	  magic "RFSv" | version u16 | volume id u64 | node...

	Each node: tag u8, mode u16, uid u32, gid u32, atime u64, mtime u64,
	ctime u64, size u64, then the variant payload. Directories write a u32
	child count followed by each child as a u16-length name and the child
	node, in ascending name order so equal volumes serialize to equal
	bytes. Files write a u64 payload length, the payload, and the fixed
	content filter bitmap. Symlinks write a u16 target length and the
	target bytes.
*/

// Serialize renders the volume into the versioned byte stream.
func Serialize(v *Volume) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, serdeMagic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, SerdeVersion)
	buf = binary.LittleEndian.AppendUint64(buf, v.ID)

	type item struct {
		node  *Node
		name  string
		named bool
	}
	stack := []item{{node: v.Root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if it.named {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(len(it.name)))
			buf = append(buf, it.name...)
		}

		n := it.node
		switch n.Kind {
		case KindDir:
			buf = append(buf, tagDir)
		case KindFile:
			buf = append(buf, tagFile)
		case KindSymlink:
			buf = append(buf, tagSymlink)
		}
		buf = binary.LittleEndian.AppendUint16(buf, n.Meta.Mode)
		buf = binary.LittleEndian.AppendUint32(buf, n.Meta.UID)
		buf = binary.LittleEndian.AppendUint32(buf, n.Meta.GID)
		buf = binary.LittleEndian.AppendUint64(buf, n.Meta.AtimeMs)
		buf = binary.LittleEndian.AppendUint64(buf, n.Meta.MtimeMs)
		buf = binary.LittleEndian.AppendUint64(buf, n.Meta.CtimeMs)
		buf = binary.LittleEndian.AppendUint64(buf, n.Size())

		switch n.Kind {
		case KindDir:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(n.Children)))
			names := n.EntryNames()
			for i := len(names) - 1; i >= 0; i-- {
				stack = append(stack, item{node: n.Children[names[i]], name: names[i], named: true})
			}
		case KindFile:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(len(n.Data)))
			buf = append(buf, n.Data...)
			buf = append(buf, n.Filter[:]...)
		case KindSymlink:
			buf = binary.LittleEndian.AppendUint16(buf, uint16(len(n.Target)))
			buf = append(buf, n.Target...)
		}
	}
	return buf
}

// reader is a bounds-checked cursor over the serialized stream. Every
// short read surfaces as a corruption error.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(reason string) {
	if r.err == nil {
		r.err = &ErrCorrupt{Reason: reason}
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail("truncated stream")
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// readNode decodes one node minus its directory children; for a
// directory the declared child count comes back for the caller to drain.
func (r *reader) readNode() (*Node, uint32) {
	tag := r.u8()
	n := &Node{}
	n.Meta.Mode = r.u16()
	n.Meta.UID = r.u32()
	n.Meta.GID = r.u32()
	n.Meta.AtimeMs = r.u64()
	n.Meta.MtimeMs = r.u64()
	n.Meta.CtimeMs = r.u64()
	size := r.u64()
	if r.err != nil {
		return nil, 0
	}

	switch tag {
	case tagDir:
		n.Kind = KindDir
		count := r.u32()
		if uint64(count) != size {
			r.fail("directory size does not match child count")
			return nil, 0
		}
		n.Children = make(map[string]*Node)
		return n, count
	case tagFile:
		n.Kind = KindFile
		length := r.u64()
		if length != size {
			r.fail("file size does not match payload length")
			return nil, 0
		}
		if length > uint64(len(r.buf)) {
			r.fail("file payload longer than stream")
			return nil, 0
		}
		payload := r.take(int(length))
		bitmap := r.take(fbloom.FilterBytes)
		if r.err != nil {
			return nil, 0
		}
		n.Data = append([]byte(nil), payload...)
		copy(n.Filter[:], bitmap)
		return n, 0
	case tagSymlink:
		n.Kind = KindSymlink
		length := r.u16()
		if uint64(length) != size {
			r.fail("symlink size does not match target length")
			return nil, 0
		}
		target := r.take(int(length))
		if r.err != nil {
			return nil, 0
		}
		n.Target = string(target)
		return n, 0
	default:
		r.fail("unknown node tag")
		return nil, 0
	}
}

// Deserialize rebuilds a volume from its byte stream, validating the
// header, every size field, entry names and entry uniqueness. Any
// violation aborts; the host engine discards the value.
func Deserialize(buf []byte) (*Volume, error) {
	r := &reader{buf: buf}

	magic := r.take(4)
	if r.err != nil {
		return nil, r.err
	}
	if string(magic) != string(serdeMagic[:]) {
		return nil, &ErrCorrupt{Reason: "bad magic"}
	}
	if version := r.u16(); version != SerdeVersion {
		if r.err != nil {
			return nil, r.err
		}
		return nil, &ErrCorrupt{Reason: "unknown version"}
	}
	id := r.u64()

	root, count := r.readNode()
	if r.err != nil {
		return nil, r.err
	}
	if root.Kind != KindDir {
		return nil, &ErrCorrupt{Reason: "root is not a directory"}
	}

	type frame struct {
		dir       *Node
		remaining uint32
	}
	stack := []frame{{dir: root, remaining: count}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.remaining == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		f.remaining--

		nameLen := r.u16()
		nameBytes := r.take(int(nameLen))
		if r.err != nil {
			return nil, r.err
		}
		name := string(nameBytes)
		if !validName(name) {
			return nil, &ErrCorrupt{Reason: "invalid entry name"}
		}
		if _, dup := f.dir.Children[name]; dup {
			return nil, &ErrCorrupt{Reason: "duplicate entry name"}
		}

		child, childCount := r.readNode()
		if r.err != nil {
			return nil, r.err
		}
		f.dir.Children[name] = child
		if child.Kind == KindDir {
			stack = append(stack, frame{dir: child, remaining: childCount})
		}
	}

	if r.off != len(buf) {
		return nil, &ErrCorrupt{Reason: "trailing bytes after tree"}
	}
	return &Volume{ID: id, Root: root}, nil
}

// EstimateSize approximates the in-memory footprint of the volume in
// bytes, for the host engine's memory accounting.
func (v *Volume) EstimateSize() uint64 {
	const nodeOverhead = 96
	var total uint64
	type item struct {
		node *Node
		name string
	}
	stack := []item{{node: v.Root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := it.node
		total += nodeOverhead + uint64(len(it.name))
		switch n.Kind {
		case KindDir:
			for name, child := range n.Children {
				stack = append(stack, item{node: child, name: name})
			}
		case KindFile:
			total += uint64(len(n.Data)) + fbloom.FilterBytes
		case KindSymlink:
			total += uint64(len(n.Target))
		}
	}
	return total
}
