package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNow uint64 = 1700000000000

func testVolume(t *testing.T) *Volume {
	t.Helper()
	return NewVolume(1, testNow)
}

func mustEcho(t *testing.T, v *Volume, path, data string) {
	t.Helper()
	_, err := v.Echo(path, []byte(data), false, testNow)
	require.NoError(t, err)
}

func mustMkdir(t *testing.T, v *Volume, path string) {
	t.Helper()
	require.NoError(t, v.Mkdir(path, true, testNow))
}

func mustLink(t *testing.T, v *Volume, target, link string) {
	t.Helper()
	require.NoError(t, v.Link(target, link, testNow))
}

func TestResolveBasic(t *testing.T) {
	v := testVolume(t)
	mustEcho(t, v, "/a/b/c.txt", "data")

	t.Run("root resolves to root directory", func(t *testing.T) {
		n, err := v.Resolve("/", true)
		require.NoError(t, err)
		assert.Same(t, v.Root, n)
	})

	t.Run("file resolves", func(t *testing.T) {
		n, err := v.Resolve("/a/b/c.txt", true)
		require.NoError(t, err)
		assert.Equal(t, KindFile, n.Kind)
		assert.Equal(t, []byte("data"), n.Data)
	})

	t.Run("intermediate dirs resolve", func(t *testing.T) {
		n, err := v.Resolve("/a/b", true)
		require.NoError(t, err)
		assert.Equal(t, KindDir, n.Kind)
	})

	t.Run("missing component", func(t *testing.T) {
		_, err := v.Resolve("/a/x/c.txt", true)
		var noEntry *ErrNoEntry
		assert.ErrorAs(t, err, &noEntry)
	})

	t.Run("missing final", func(t *testing.T) {
		_, err := v.Resolve("/a/b/missing", true)
		var noEntry *ErrNoEntry
		assert.ErrorAs(t, err, &noEntry)
	})

	t.Run("file in the middle", func(t *testing.T) {
		_, err := v.Resolve("/a/b/c.txt/deeper", true)
		var notDir *ErrNotDir
		assert.ErrorAs(t, err, &notDir)
	})

	t.Run("relative path rejected", func(t *testing.T) {
		_, err := v.Resolve("a/b", true)
		var invalid *ErrInvalid
		assert.ErrorAs(t, err, &invalid)
	})
}

func TestResolveSymlinks(t *testing.T) {
	v := testVolume(t)
	mustEcho(t, v, "/data/file.txt", "payload")
	mustLink(t, v, "/data", "/abs")
	mustLink(t, v, "data", "/rel")
	mustLink(t, v, "/abs/file.txt", "/chain")

	t.Run("absolute target followed", func(t *testing.T) {
		n, err := v.Resolve("/abs/file.txt", true)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), n.Data)
	})

	t.Run("relative target followed", func(t *testing.T) {
		n, err := v.Resolve("/rel/file.txt", true)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), n.Data)
	})

	t.Run("chained links", func(t *testing.T) {
		n, err := v.Resolve("/chain", true)
		require.NoError(t, err)
		assert.Equal(t, KindFile, n.Kind)
	})

	t.Run("final link returned when not following", func(t *testing.T) {
		n, err := v.Resolve("/abs", false)
		require.NoError(t, err)
		assert.Equal(t, KindSymlink, n.Kind)
		assert.Equal(t, "/data", n.Target)
	})

	t.Run("intermediate link always followed", func(t *testing.T) {
		n, err := v.Resolve("/abs/file.txt", false)
		require.NoError(t, err)
		assert.Equal(t, KindFile, n.Kind)
	})

	t.Run("dangling link fails on follow", func(t *testing.T) {
		mustLink(t, v, "/nowhere", "/dangling")
		_, err := v.Resolve("/dangling", true)
		var noEntry *ErrNoEntry
		assert.ErrorAs(t, err, &noEntry)
	})

	t.Run("dotdot in target clamps at root", func(t *testing.T) {
		mustLink(t, v, "../../../../data", "/climber")
		n, err := v.Resolve("/climber/file.txt", true)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), n.Data)
	})

	t.Run("target with dot components", func(t *testing.T) {
		mustLink(t, v, "/data/./file.txt", "/dotty")
		n, err := v.Resolve("/dotty", true)
		require.NoError(t, err)
		assert.Equal(t, KindFile, n.Kind)
	})
}

func TestResolveLoops(t *testing.T) {
	v := testVolume(t)

	t.Run("two link cycle", func(t *testing.T) {
		mustLink(t, v, "/b", "/a")
		mustLink(t, v, "/a", "/b")
		_, err := v.Resolve("/a", true)
		var loop *ErrLoop
		require.ErrorAs(t, err, &loop)
		assert.Contains(t, err.Error(), TokenLoop)
	})

	t.Run("self cycle", func(t *testing.T) {
		mustLink(t, v, "/self", "/self")
		_, err := v.Resolve("/self", true)
		var loop *ErrLoop
		assert.ErrorAs(t, err, &loop)
	})

	t.Run("long chain under the budget resolves", func(t *testing.T) {
		mustEcho(t, v, "/base", "x")
		prev := "/base"
		for i := 0; i < MaxSymlinkHops-1; i++ {
			link := JoinPath([]string{"hop" + string(rune('a'+i%26)) + string(rune('a'+i/26))})
			mustLink(t, v, prev, link)
			prev = link
		}
		n, err := v.Resolve(prev, true)
		require.NoError(t, err)
		assert.Equal(t, KindFile, n.Kind)
	})
}

func TestResolveEntry(t *testing.T) {
	v := testVolume(t)
	mustEcho(t, v, "/dir/file", "x")
	mustLink(t, v, "/dir/file", "/link")

	t.Run("entry of existing file", func(t *testing.T) {
		site, err := v.resolveEntry("/dir/file")
		require.NoError(t, err)
		assert.Equal(t, "file", site.name)
		require.NotNil(t, site.existing)
		assert.Equal(t, KindFile, site.existing.Kind)
	})

	t.Run("final symlink not followed", func(t *testing.T) {
		site, err := v.resolveEntry("/link")
		require.NoError(t, err)
		require.NotNil(t, site.existing)
		assert.Equal(t, KindSymlink, site.existing.Kind)
	})

	t.Run("missing parent", func(t *testing.T) {
		_, err := v.resolveEntry("/nope/file")
		var noEntry *ErrNoEntry
		assert.ErrorAs(t, err, &noEntry)
	})

	t.Run("root rejected", func(t *testing.T) {
		_, err := v.resolveEntry("/")
		var invalid *ErrInvalid
		assert.ErrorAs(t, err, &invalid)
	})
}
