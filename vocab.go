package banana

// Vocabulary is a pre-agreed table mapping small integers to strings, used
// to compress common repeated values into single Vocab tokens. Both peers
// must build their tables from the same word list in the same order; the
// table content is never negotiated on the wire.
type Vocabulary struct {
	words []string
	index map[string]uint64
}

// NewVocabulary builds a table from words, indexed by position.
func NewVocabulary(words []string) *Vocabulary {
	v := &Vocabulary{
		words: append([]string(nil), words...),
		index: make(map[string]uint64, len(words)),
	}
	for i, w := range words {
		v.index[w] = uint64(i)
	}
	return v
}

// Lookup returns the index registered for word. A nil Vocabulary matches
// nothing.
func (v *Vocabulary) Lookup(word string) (uint64, bool) {
	if v == nil {
		return 0, false
	}
	i, ok := v.index[word]
	return i, ok
}

// Word returns the string registered at index i.
func (v *Vocabulary) Word(i uint64) (string, bool) {
	if v == nil || i >= uint64(len(v.words)) {
		return "", false
	}
	return v.words[i], true
}

// Len returns the number of registered words.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.words)
}
