package ngram

// TokenID is the dense integer form of a token.
type TokenID uint32

const (
	// BOSID is the reserved ID for the sentence-start token. It only ever
	// appears as context and is never predicted.
	BOSID TokenID = 0
	// EOSID is the reserved ID for the sentence-end token.
	EOSID TokenID = 1
	// UnknownID is the reserved ID for out-of-vocabulary tokens. It exists
	// only in vocabularies created with unknown handling enabled.
	UnknownID TokenID = 2

	BOSText     = "<s>"
	EOSText     = "</s>"
	UnknownText = "<unk>"
)

// Vocabulary maps tokens to dense IDs assigned in first-seen order. It is
// mutable while a model trains and sealed (lookup only) afterwards.
type Vocabulary struct {
	tokenToID  map[string]TokenID
	idToToken  []string
	useUnknown bool
	sealed     bool
}

// NewVocabulary creates a vocabulary holding the reserved tokens.
func NewVocabulary(useUnknown bool) *Vocabulary {
	v := &Vocabulary{
		tokenToID:  make(map[string]TokenID),
		useUnknown: useUnknown,
	}
	v.add(BOSText)
	v.add(EOSText)
	if useUnknown {
		v.add(UnknownText)
	}
	return v
}

func (v *Vocabulary) add(token string) TokenID {
	id := TokenID(len(v.idToToken))
	v.tokenToID[token] = id
	v.idToToken = append(v.idToToken, token)
	return id
}

// Intern returns the ID of token, assigning the next free ID when the token
// is new. On a sealed vocabulary it behaves like Lookup and reports whether
// the token was known.
func (v *Vocabulary) Intern(token string) (TokenID, bool) {
	if id, ok := v.tokenToID[token]; ok {
		return id, true
	}
	if v.sealed {
		return v.fallback()
	}
	return v.add(token), true
}

// Lookup never mutates the vocabulary. Unknown tokens map to UnknownID when
// unknown handling is on; otherwise ok is false.
func (v *Vocabulary) Lookup(token string) (TokenID, bool) {
	if id, ok := v.tokenToID[token]; ok {
		return id, true
	}
	return v.fallback()
}

func (v *Vocabulary) fallback() (TokenID, bool) {
	if v.useUnknown {
		return UnknownID, true
	}
	return 0, false
}

// Contains reports whether token was seen during training.
func (v *Vocabulary) Contains(token string) bool {
	_, ok := v.tokenToID[token]
	return ok
}

// Resolve returns the token for id, or "" when id is out of range.
func (v *Vocabulary) Resolve(id TokenID) string {
	if int(id) < len(v.idToToken) {
		return v.idToToken[id]
	}
	return ""
}

// UnknownID returns the reserved unknown slot; ok is false when unknown
// handling is disabled.
func (v *Vocabulary) UnknownID() (TokenID, bool) {
	return UnknownID, v.useUnknown
}

// UseUnknown reports whether OOV tokens map to the unknown slot.
func (v *Vocabulary) UseUnknown() bool {
	return v.useUnknown
}

// Size returns the number of IDs, reserved ones included.
func (v *Vocabulary) Size() int {
	return len(v.idToToken)
}

// PredictableSize is the size of the event space probabilities are
// normalised over: every ID except <s>.
func (v *Vocabulary) PredictableSize() int {
	return len(v.idToToken) - 1
}

// PredictableIDs lists every ID a model can assign probability to.
func (v *Vocabulary) PredictableIDs() []TokenID {
	ids := make([]TokenID, 0, v.PredictableSize())
	for id := range v.idToToken {
		if TokenID(id) != BOSID {
			ids = append(ids, TokenID(id))
		}
	}
	return ids
}

// Seal makes the vocabulary lookup-only.
func (v *Vocabulary) Seal() {
	v.sealed = true
}

// Sealed reports whether Seal has been called.
func (v *Vocabulary) Sealed() bool {
	return v.sealed
}
