package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
		wantErr  bool
	}{
		{name: "root", input: "/", expected: nil},
		{name: "single component", input: "/a", expected: []string{"a"}},
		{name: "nested", input: "/a/b/c", expected: []string{"a", "b", "c"}},
		{name: "collapsed slashes", input: "//a///b", expected: []string{"a", "b"}},
		{name: "trailing slash", input: "/a/b/", expected: []string{"a", "b"}},
		{name: "dot skipped", input: "/a/./b", expected: []string{"a", "b"}},
		{name: "dotdot pops", input: "/a/b/../c", expected: []string{"a", "c"}},
		{name: "dotdot clamps at root", input: "/../../a", expected: []string{"a"}},
		{name: "only dots", input: "/./././", expected: nil},
		{name: "empty", input: "", wantErr: true},
		{name: "relative", input: "a/b", wantErr: true},
		{name: "bytes are opaque", input: "/a b/\tc", expected: []string{"a b", "\tc"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			comps, err := SplitPath(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				var invalid *ErrInvalid
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, comps)
		})
	}
}

func TestNormalizePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{input: "/", expected: "/"},
		{input: "//", expected: "/"},
		{input: "/a//b/", expected: "/a/b"},
		{input: "/a/./b/../c", expected: "/a/c"},
		{input: "/..", expected: "/"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := NormalizePath(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/", JoinPath(nil))
	assert.Equal(t, "/a", JoinPath([]string{"a"}))
	assert.Equal(t, "/a/b", JoinPath([]string{"a", "b"}))
}

func TestValidName(t *testing.T) {
	assert.True(t, validName("a"))
	assert.True(t, validName("a.txt"))
	assert.True(t, validName("..."))
	assert.False(t, validName(""))
	assert.False(t, validName("."))
	assert.False(t, validName(".."))
	assert.False(t, validName("a/b"))
}
