package lexicon

import (
	"embed"
	"fmt"

	"analyzerd/internal/manager"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtin returns the bundled lexicon for kind.
func Builtin(kind manager.Kind) (*Lexicon, error) {
	b, err := builtinFS.ReadFile("builtin/" + kind.String() + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no built-in lexicon for %s: %w", kind, err)
	}
	return Parse(b)
}

// BuiltinSize is the encoded size of the bundled lexicon, used as a memory
// estimate when nothing better is configured.
func BuiltinSize(kind manager.Kind) int64 {
	b, err := builtinFS.ReadFile("builtin/" + kind.String() + ".yaml")
	if err != nil {
		return 0
	}
	return int64(len(b))
}
