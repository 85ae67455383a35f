package fbloom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterRebuildAndProbe(t *testing.T) {
	var f Filter
	f.Rebuild([]byte("the quick brown fox\njumps over the lazy dog"))

	t.Run("indexed tokens are found", func(t *testing.T) {
		assert.True(t, f.MayHave("quick", false))
		assert.True(t, f.MayHave("brown", false))
		assert.True(t, f.MayHave("jumps", false))
	})

	t.Run("fragments inside tokens are found", func(t *testing.T) {
		assert.True(t, f.MayHave("uic", false))
		assert.True(t, f.MayHave("rown", false))
	})

	t.Run("short fragments never prune", func(t *testing.T) {
		assert.True(t, f.MayHave("zz", false))
		assert.True(t, f.MayHave("", false))
	})

	t.Run("whitespace fragments never prune", func(t *testing.T) {
		assert.True(t, f.MayHave("xx yy", false))
	})

	t.Run("absent fragments prune", func(t *testing.T) {
		assert.False(t, f.MayHave("zebra", false))
		assert.False(t, f.MayHave("qqq", false))
	})
}

func TestFilterCaseFolding(t *testing.T) {
	var f Filter
	f.Rebuild([]byte("Error HERE ok"))

	t.Run("case sensitive probe sees stored case", func(t *testing.T) {
		assert.True(t, f.MayHave("Error", false))
		assert.True(t, f.MayHave("HERE", false))
	})

	t.Run("folded probe stays sound", func(t *testing.T) {
		assert.True(t, f.MayHave("error", true))
		assert.True(t, f.MayHave("ERROR", true))
		assert.True(t, f.MayHave("here", true))
	})

	t.Run("folded probe still prunes", func(t *testing.T) {
		assert.False(t, f.MayHave("missing", true))
	})
}

func TestFilterRebuildResets(t *testing.T) {
	var f Filter
	f.Rebuild([]byte("alpha beta"))
	require.True(t, f.MayHave("alpha", false))

	f.Rebuild([]byte("gamma"))
	assert.True(t, f.MayHave("gamma", false))
	assert.False(t, f.MayHave("alpha", false))
}

func TestFilterShortTokensNotIndexed(t *testing.T) {
	var f Filter
	f.Rebuild([]byte("ab cd ef"))

	// Two-byte tokens produce no grams, so the filter stays empty and any
	// three-byte probe reads as definitively absent.
	assert.False(t, f.MayHave("abc", false))

	// The tokens themselves are below the gram width and never prune.
	assert.True(t, f.MayHave("ab", false))
}

func TestFilterZeroValueEmpty(t *testing.T) {
	var f Filter
	assert.False(t, f.MayHave("abc", false))
	assert.True(t, f.MayHave("ab", false))
}

func TestFilterSoundnessOverManyTokens(t *testing.T) {
	payload := []byte("")
	words := []string{
		"storage", "engine", "volume", "symlink", "resolver",
		"pattern", "matcher", "payload", "filter", "command",
	}
	for _, w := range words {
		payload = append(payload, []byte(w+" ")...)
	}

	var f Filter
	f.Rebuild(payload)
	for _, w := range words {
		assert.True(t, f.MayHave(w, false), "token %q must never read absent", w)
		assert.True(t, f.MayHave(w, true), "folded token %q must never read absent", w)
	}
}
