/*
	Per-file content filters for grep pruning.

	Each regular file carries a fixed 2048-bit filter over the 3-byte grams
	of its whitespace-delimited tokens. Indexing grams rather than whole
	tokens keeps the filter usable for partial fragments pulled out of a
	glob pattern: a fragment that appears anywhere inside a line must sit
	inside a single token, so all of its grams are indexed. The filter is a
	may-have predicate; a positive answer proves nothing, a negative answer
	is definitive.

	Grams are indexed in raw and ASCII-folded form so that case-insensitive
	probes stay sound.
*/

package fbloom

import "golang.org/x/crypto/blake2b"

const (
	// FilterBits is the fixed width of every filter.
	FilterBits = 2048

	// FilterBytes is the serialized bitmap size.
	FilterBytes = FilterBits / 8

	// GramSize is the indexed gram width. Tokens and probe fragments
	// shorter than this never prune.
	GramSize = 3

	hashCount = 4
)

// Filter is a fixed-size bloom bitmap. The zero value is an empty filter.
type Filter [FilterBytes]byte

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func foldByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// gramHashes derives the double-hash pair for a gram from the first two
// 64-bit words of its BLAKE2b-256 digest.
func gramHashes(g []byte) (h1, h2 uint64) {
	sum := blake2b.Sum256(g)
	for i := 0; i < 8; i++ {
		h1 |= uint64(sum[i]) << (8 * i)
		h2 |= uint64(sum[8+i]) << (8 * i)
	}
	// An even h2 would cycle over a fraction of the bit space.
	h2 |= 1
	return h1, h2
}

func (f *Filter) setGram(g []byte) {
	h1, h2 := gramHashes(g)
	for i := uint64(0); i < hashCount; i++ {
		bit := (h1 + i*h2) % FilterBits
		f[bit/8] |= 1 << (bit % 8)
	}
}

func (f *Filter) hasGram(g []byte) bool {
	h1, h2 := gramHashes(g)
	for i := uint64(0); i < hashCount; i++ {
		bit := (h1 + i*h2) % FilterBits
		if f[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

func foldGram(g []byte) []byte {
	out := make([]byte, len(g))
	changed := false
	for i, b := range g {
		out[i] = foldByte(b)
		if out[i] != b {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return out
}

// AddToken indexes every gram of one whitespace-delimited token. Tokens
// shorter than GramSize are ignored.
func (f *Filter) AddToken(tok []byte) {
	for i := 0; i+GramSize <= len(tok); i++ {
		g := tok[i : i+GramSize]
		f.setGram(g)
		if fg := foldGram(g); fg != nil {
			f.setGram(fg)
		}
	}
}

// Rebuild resets the filter and indexes the full payload. Content writes
// always rebuild rather than patching the previous filter.
func (f *Filter) Rebuild(payload []byte) {
	*f = Filter{}
	i := 0
	for i < len(payload) {
		for i < len(payload) && isSpace(payload[i]) {
			i++
		}
		start := i
		for i < len(payload) && !isSpace(payload[i]) {
			i++
		}
		if i > start {
			f.AddToken(payload[start:i])
		}
	}
}

// MayHave reports whether fragment could appear inside the indexed
// payload. Fragments shorter than GramSize, or containing whitespace,
// cannot be checked and return true.
func (f *Filter) MayHave(fragment string, fold bool) bool {
	if len(fragment) < GramSize {
		return true
	}
	probe := []byte(fragment)
	for _, b := range probe {
		if isSpace(b) {
			return true
		}
	}
	if fold {
		for i, b := range probe {
			probe[i] = foldByte(b)
		}
	}
	for i := 0; i+GramSize <= len(probe); i++ {
		if !f.hasGram(probe[i : i+GramSize]) {
			return false
		}
	}
	return true
}
