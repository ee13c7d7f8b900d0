// Package ahocorasick implements Aho-Corasick multi-keyword matching over
// bytes.
//
// The automaton is compiled into a full transition table, so matching is a
// single pass with one table lookup per input byte and no failure-link
// chasing. Matching is case-sensitive.
//
// Thread Safety: a Matcher is immutable after New returns and safe for
// concurrent use.
package ahocorasick

// MaxKeywords is the largest keyword set Mask can report.
const MaxKeywords = 64

// Matcher is a compiled keyword automaton.
type Matcher struct {
	next     [][256]int32 // next[state][byte] is the successor state
	out      []uint64     // out[state] has bit i set when keyword i ends here
	keywords []string
}

// New compiles keywords into a matcher.
//
// Parameters:
//   - keywords: literal byte strings, at most MaxKeywords; empty strings
//     never match
//
// Returns:
//   - Matcher ready for concurrent use
//
// Panics if more than MaxKeywords keywords are given.
func New(keywords []string) *Matcher {
	if len(keywords) > MaxKeywords {
		panic("ahocorasick: too many keywords")
	}

	m := &Matcher{keywords: append([]string(nil), keywords...)}
	m.addState()

	for i, kw := range keywords {
		if kw == "" {
			continue
		}
		state := int32(0)
		for j := 0; j < len(kw); j++ {
			c := kw[j]
			if m.next[state][c] == 0 {
				m.next[state][c] = m.addState()
			}
			state = m.next[state][c]
		}
		m.out[state] |= 1 << uint(i)
	}

	m.compile()
	return m
}

func (m *Matcher) addState() int32 {
	m.next = append(m.next, [256]int32{})
	m.out = append(m.out, 0)
	return int32(len(m.next) - 1)
}

// compile turns the trie into a DFA. States are visited breadth first so a
// state's failure target is always complete before the state itself.
func (m *Matcher) compile() {
	fail := make([]int32, len(m.next))
	queue := make([]int32, 0, len(m.next))

	for c := 0; c < 256; c++ {
		if s := m.next[0][c]; s != 0 {
			queue = append(queue, s)
		}
	}

	for len(queue) > 0 {
		state := queue[0]
		queue = queue[1:]
		m.out[state] |= m.out[fail[state]]

		for c := 0; c < 256; c++ {
			child := m.next[state][c]
			if child == 0 {
				m.next[state][c] = m.next[fail[state]][c]
				continue
			}
			fail[child] = m.next[fail[state]][c]
			queue = append(queue, child)
		}
	}
}

// Mask scans text once and returns a bitset of the keywords it contains:
// bit i is set when keywords[i] occurs.
func (m *Matcher) Mask(text string) uint64 {
	var mask uint64
	state := int32(0)
	for i := 0; i < len(text); i++ {
		state = m.next[state][text[i]]
		mask |= m.out[state]
	}
	return mask
}

// Contains reports whether text holds any keyword. It stops at the first hit.
func (m *Matcher) Contains(text string) bool {
	state := int32(0)
	for i := 0; i < len(text); i++ {
		state = m.next[state][text[i]]
		if m.out[state] != 0 {
			return true
		}
	}
	return false
}

// Matches returns the indices of the keywords found in text, ascending.
func (m *Matcher) Matches(text string) []int {
	mask := m.Mask(text)
	if mask == 0 {
		return nil
	}
	var idx []int
	for i := range m.keywords {
		if mask&(1<<uint(i)) != 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

func (m *Matcher) Keywords() []string {
	return append([]string(nil), m.keywords...)
}

func (m *Matcher) Len() int {
	return len(m.keywords)
}
