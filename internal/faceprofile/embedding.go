package faceprofile

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EmbeddingDim is the contractual embedding width of the current model version.
const EmbeddingDim = 512

// embeddingDecimals is the fixed-point precision of a stored component.
const embeddingDecimals = 6

// Embedding is a validated vector ready for a vector(512) column.
type Embedding struct {
	// Text is the canonical "[c0,c1,...]" literal, each component with six
	// decimals. It equals EmbeddingLiteral(Values), which the store writes.
	Text string
	// Values holds the same components after fixed-point rounding.
	Values []float32
}

// ValidateEmbedding checks the shape of raw and returns its canonical form.
// Non-finite components become 0; the length is never relaxed.
func ValidateEmbedding(raw []float64) (Embedding, error) {
	if len(raw) == 0 {
		return Embedding{}, newError(KindMissingEmbedding, "embedding is empty")
	}
	if len(raw) != EmbeddingDim {
		return Embedding{}, newError(KindDimensionMismatch,
			fmt.Sprintf("expected %d components, got %d", EmbeddingDim, len(raw)))
	}

	values := make([]float32, len(raw))
	for i, x := range raw {
		v, err := strconv.ParseFloat(formatComponent(x), 32)
		if err != nil {
			return Embedding{}, fmt.Errorf("parse component %d: %w", i, err)
		}
		values[i] = float32(v)
	}

	return Embedding{Text: EmbeddingLiteral(values), Values: values}, nil
}

// EmbeddingLiteral renders values as a pgvector text literal with six decimals.
func EmbeddingLiteral(values []float32) string {
	var b strings.Builder
	b.Grow(len(values) * 11)
	b.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(formatComponent(float64(v)))
	}
	b.WriteByte(']')
	return b.String()
}

func formatComponent(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		x = 0
	}
	s := strconv.FormatFloat(x, 'f', embeddingDecimals, 64)
	// Tiny negatives round to "-0.000000"; keep a single spelling of zero.
	if s == "-0.000000" {
		return "0.000000"
	}
	return s
}
