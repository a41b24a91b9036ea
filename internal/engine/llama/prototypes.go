// Package llama classifies text with GGUF embedding models through
// go-llama.cpp. Each label is represented by prototype sentences embedded once
// at load; input text is assigned to the nearest prototype by cosine
// similarity. The real runtime needs the 'llama' build tag.
package llama

import (
	"math"

	"analyzerd/internal/manager"
)

// Prototypes lists descriptive sentences per label for each kind.
var Prototypes = map[manager.Kind]map[string][]string{
	manager.KindToxicity: {
		"toxic":     {"You are a stupid worthless idiot.", "Shut up, nobody cares about you, loser."},
		"non-toxic": {"Thank you for the helpful answer.", "I see your point, let's discuss it."},
	},
	manager.KindSentiment: {
		"positive": {"I love this, it is wonderful.", "Great experience, highly recommended."},
		"neutral":  {"The package arrived on Tuesday.", "It is a product with a blue cover."},
		"negative": {"This is terrible and I hate it.", "Awful service, a complete waste of money."},
	},
	manager.KindEmotion: {
		"joy":      {"I am so happy and excited today!"},
		"sadness":  {"I feel lonely and I want to cry."},
		"anger":    {"I am furious, this makes me so angry."},
		"fear":     {"I am scared and worried about what happens next."},
		"surprise": {"Wow, I did not expect that at all!"},
		"love":     {"I adore you with all my heart."},
		"neutral":  {"The meeting is scheduled for three o'clock."},
	},
	manager.KindHateSpeech: {
		"hate":     {"Those people are vermin and should be exterminated.", "They are subhuman parasites."},
		"non-hate": {"Everyone deserves respect regardless of origin.", "Our neighbors come from many countries."},
	},
}

// Cosine returns the cosine similarity of a and b, or 0 when either is empty
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// centroid averages vectors of equal length.
func centroid(vs [][]float32) []float32 {
	if len(vs) == 0 {
		return nil
	}
	out := make([]float32, len(vs[0]))
	for _, v := range vs {
		for i := range out {
			if i < len(v) {
				out[i] += v[i]
			}
		}
	}
	for i := range out {
		out[i] /= float32(len(vs))
	}
	return out
}

// nearest picks the label whose centroid is most similar to v and returns a
// softmax probability over similarities sharpened by temperature.
func nearest(v []float32, labels []string, centroids [][]float32, temperature float64) (string, float64) {
	if len(labels) == 0 {
		return "", 0
	}
	sims := make([]float64, len(labels))
	maxv := math.Inf(-1)
	best := 0
	for i, c := range centroids {
		sims[i] = Cosine(v, c) / temperature
		if sims[i] > maxv {
			maxv = sims[i]
			best = i
		}
	}
	var sum float64
	for _, s := range sims {
		sum += math.Exp(s - maxv)
	}
	return labels[best], 1 / sum
}
