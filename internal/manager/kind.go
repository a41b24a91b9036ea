package manager

import (
	"fmt"
	"strings"
)

// Kind identifies an analysis category. The set is closed; add a constant here
// and extend every switch over Kind when a new category is introduced.
type Kind uint8

const (
	KindToxicity Kind = iota + 1
	KindSentiment
	KindEmotion
	KindHateSpeech
)

// AllKinds returns every known kind in default priority order.
func AllKinds() []Kind {
	return []Kind{KindToxicity, KindSentiment, KindEmotion, KindHateSpeech}
}

func (k Kind) String() string {
	switch k {
	case KindToxicity:
		return "toxicity"
	case KindSentiment:
		return "sentiment"
	case KindEmotion:
		return "emotion"
	case KindHateSpeech:
		return "hate_speech"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindToxicity, KindSentiment, KindEmotion, KindHateSpeech:
		return true
	default:
		return false
	}
}

// DefaultPriority is the load rank used when configuration does not set one.
// Toxicity loads first since it gates moderation decisions.
func (k Kind) DefaultPriority() int {
	switch k {
	case KindToxicity:
		return 0
	case KindSentiment:
		return 1
	case KindEmotion:
		return 2
	case KindHateSpeech:
		return 3
	default:
		return 100
	}
}

// MarshalText lets Kind be used as a JSON map key and value.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, UnknownKindError{Name: k.String()}
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind resolves a kind name. Hyphens and case are tolerated
// ("Hate-Speech" parses as hate_speech).
func ParseKind(s string) (Kind, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch name {
	case "toxicity":
		return KindToxicity, nil
	case "sentiment":
		return KindSentiment, nil
	case "emotion":
		return KindEmotion, nil
	case "hate_speech", "hatespeech":
		return KindHateSpeech, nil
	default:
		return 0, UnknownKindError{Name: s}
	}
}
