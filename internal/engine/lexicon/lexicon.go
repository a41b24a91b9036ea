// Package lexicon implements a pure-Go weighted keyword classifier. Each kind
// is backed by a YAML lexicon file or a small built-in default.
package lexicon

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Lexicon is a per-kind model: label biases plus token weights.
type Lexicon struct {
	Labels []string `yaml:"labels"`
	// Bias is added to a label's logit before any token matches.
	Bias map[string]float64 `yaml:"bias"`
	// Weights maps a lowercase token to per-label weights.
	Weights map[string]map[string]float64 `yaml:"weights"`
	// Temperature scales logits before softmax; 0 means 1.
	Temperature float64 `yaml:"temperature"`
}

// Parse decodes and validates a YAML lexicon.
func Parse(b []byte) (*Lexicon, error) {
	var lx Lexicon
	if err := yaml.Unmarshal(b, &lx); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	if err := lx.Validate(); err != nil {
		return nil, err
	}
	return &lx, nil
}

// ParseFile reads a YAML lexicon from disk.
func ParseFile(path string) (*Lexicon, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	lx, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lx, nil
}

// Validate checks that every referenced label is declared.
func (lx *Lexicon) Validate() error {
	if len(lx.Labels) < 2 {
		return errors.New("lexicon needs at least two labels")
	}
	known := make(map[string]bool, len(lx.Labels))
	for _, l := range lx.Labels {
		if l == "" || known[l] {
			return fmt.Errorf("empty or duplicate label %q", l)
		}
		known[l] = true
	}
	for l := range lx.Bias {
		if !known[l] {
			return fmt.Errorf("bias for undeclared label %q", l)
		}
	}
	for tok, ws := range lx.Weights {
		for l := range ws {
			if !known[l] {
				return fmt.Errorf("token %q weights undeclared label %q", tok, l)
			}
		}
	}
	if lx.Temperature < 0 {
		return errors.New("temperature must not be negative")
	}
	return nil
}

// Tokenize lowercases text and splits it on anything that is not a letter,
// digit or apostrophe.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Classify returns the most probable label and its softmax probability.
func (lx *Lexicon) Classify(text string) (string, float64) {
	logits := make([]float64, len(lx.Labels))
	for i, l := range lx.Labels {
		logits[i] = lx.Bias[l]
	}
	for _, tok := range Tokenize(text) {
		ws, ok := lx.Weights[tok]
		if !ok {
			continue
		}
		for i, l := range lx.Labels {
			logits[i] += ws[l]
		}
	}
	temp := lx.Temperature
	if temp == 0 {
		temp = 1
	}
	probs := Softmax(logits, temp)
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return lx.Labels[best], probs[best]
}

// Softmax normalizes logits into probabilities.
func Softmax(logits []float64, temperature float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxv := math.Inf(-1)
	for _, v := range logits {
		maxv = math.Max(maxv, v/temperature)
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v/temperature - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
