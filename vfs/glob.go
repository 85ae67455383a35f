package vfs

/*
	Byte-oriented glob matching for names and lines.

	Supported syntax: '*' for any run of bytes (including empty), '?' for
	exactly one byte, '[...]' character classes with 'a-z' ranges and '[!...]'
	negation, and '\x' to force any byte literal. An unterminated class or a
	trailing backslash match themselves literally. The NOCASE option folds
	ASCII letters only.
*/

func foldByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

func eqByte(a, b byte, nocase bool) bool {
	if nocase {
		return foldByte(a) == foldByte(b)
	}
	return a == b
}

// matchClass evaluates the class starting at pat[start] (which is '[')
// against byte b. ok is false when the class has no closing bracket, in
// which case the caller treats '[' as a literal byte.
func matchClass(pat string, start int, b byte, nocase bool) (next int, matched bool, ok bool) {
	i := start + 1
	neg := false
	if i < len(pat) && pat[i] == '!' {
		neg = true
		i++
	}
	found := false
	closed := false
	for i < len(pat) {
		c := pat[i]
		if c == ']' {
			closed = true
			i++
			break
		}
		if c == '\\' && i+1 < len(pat) {
			if eqByte(pat[i+1], b, nocase) {
				found = true
			}
			i += 2
			continue
		}
		if i+2 < len(pat) && pat[i+1] == '-' && pat[i+2] != ']' {
			lo, hi := c, pat[i+2]
			if nocase {
				lo, hi = foldByte(lo), foldByte(hi)
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			probe := b
			if nocase {
				probe = foldByte(probe)
			}
			if probe >= lo && probe <= hi {
				found = true
			}
			i += 3
			continue
		}
		if eqByte(c, b, nocase) {
			found = true
		}
		i++
	}
	if !closed {
		return 0, false, false
	}
	if neg {
		found = !found
	}
	return i, found, true
}

// Match reports whether subject matches pattern. Matching is byte
// oriented; multi-byte runes are just byte sequences to the matcher.
func Match(pattern, subject string, nocase bool) bool {
	p, s := 0, 0
	starP, starS := -1, 0

	for s < len(subject) {
		stepped := false
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				starP, starS = p, s
				p++
				continue
			case '?':
				p++
				s++
				continue
			case '[':
				next, matched, ok := matchClass(pattern, p, subject[s], nocase)
				if ok {
					if matched {
						p = next
						s++
						stepped = true
					}
				} else if eqByte('[', subject[s], nocase) {
					p++
					s++
					stepped = true
				}
			case '\\':
				if p+1 < len(pattern) {
					if eqByte(pattern[p+1], subject[s], nocase) {
						p += 2
						s++
						stepped = true
					}
				} else if eqByte('\\', subject[s], nocase) {
					p++
					s++
					stepped = true
				}
			default:
				if eqByte(pattern[p], subject[s], nocase) {
					p++
					s++
					stepped = true
				}
			}
		}
		if stepped {
			continue
		}
		if starP >= 0 {
			starS++
			s = starS
			p = starP + 1
			continue
		}
		return false
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// classEnd returns the index just past the closing bracket of the class
// starting at pat[start] (which is '['), or false when the class never
// terminates. The scan mirrors matchClass: an optional leading '!', '\x'
// pairs and 'a-z' ranges skipped, first plain ']' closes.
func classEnd(pat string, start int) (int, bool) {
	i := start + 1
	if i < len(pat) && pat[i] == '!' {
		i++
	}
	for i < len(pat) {
		switch {
		case pat[i] == '\\' && i+1 < len(pat):
			i += 2
		case pat[i] == ']':
			return i + 1, true
		case i+2 < len(pat) && pat[i+1] == '-' && pat[i+2] != ']':
			i += 3
		default:
			i++
		}
	}
	return 0, false
}

// LiteralTokens extracts the maximal runs of bytes a matching subject is
// forced to contain verbatim. Content search probes these against
// per-file bloom filters to skip files that cannot possibly match, so
// the extraction must follow Match exactly: '*' and '?' break runs, a
// well-formed class matches one alternative byte and contributes nothing
// literal, while an unterminated class, a bare ']' and an escaped byte
// all match themselves.
func LiteralTokens(pattern string) []string {
	var toks []string
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			toks = append(toks, string(cur))
			cur = nil
		}
	}
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*', '?':
			flush()
		case '[':
			if end, ok := classEnd(pattern, i); ok {
				flush()
				i = end - 1
			} else {
				cur = append(cur, '[')
			}
		case '\\':
			if i+1 < len(pattern) {
				i++
			}
			cur = append(cur, pattern[i])
		default:
			cur = append(cur, pattern[i])
		}
	}
	flush()
	return toks
}
