package cache

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a cached result. ID is the kind name plus a digest of text
// and options; the cache indexes by ID and compares the full input on lookup,
// so two inputs sharing a digest never see each other's results.
type Key struct {
	ID    string
	input string
}

// String returns the key ID.
func (k Key) String() string { return k.ID }

// NewKey derives a deterministic key from already-normalized text, a kind name
// and an options map. Options are canonicalized through encoding/json, which
// emits map keys in sorted order at every depth, so insertion order never
// causes a miss. Nil and empty options produce the same key.
func NewKey(kind, text string, opts map[string]any) (Key, error) {
	canon, err := CanonicalOptions(opts)
	if err != nil {
		return Key{}, err
	}
	d := xxhash.New()
	_, _ = d.WriteString(text)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(canon)
	return Key{
		ID:    kind + ":" + fmt.Sprintf("%016x", d.Sum64()),
		input: text + "\x00" + canon,
	}, nil
}

// CanonicalOptions returns the stable textual form of opts.
func CanonicalOptions(opts map[string]any) (string, error) {
	if len(opts) == 0 {
		return "", nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("canonicalize options: %w", err)
	}
	return string(b), nil
}
