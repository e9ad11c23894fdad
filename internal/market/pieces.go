package market

import (
	"fmt"
	"math/rand"
)

// Quality is drawn from a fixed categorical distribution:
// 5% in [0,19], 15% in [20,59], 60% in [60,79], 20% in [80,100].
func rollQuality(rng *rand.Rand) int {
	r := rng.Float64()
	switch {
	case r < 0.05:
		return rng.Intn(20)
	case r < 0.20:
		return 20 + rng.Intn(40)
	case r < 0.80:
		return 60 + rng.Intn(20)
	default:
		return 80 + rng.Intn(21)
	}
}

const (
	minTrueValue = 100
	maxTrueValue = 1000
)

// GeneratePieces creates total uniquely named pieces from the name templates.
// Each template must contain one %d verb; names cycle through the templates
// with an increasing counter, so they are globally unique within a run.
func GeneratePieces(total int, templates []string, rng *rand.Rand) []Piece {
	pieces := make([]Piece, 0, total)
	for i := 0; i < total; i++ {
		tmpl := templates[i%len(templates)]
		pieces = append(pieces, Piece{
			Name:    fmt.Sprintf(tmpl, i+1),
			Quality: rollQuality(rng),
			Value:   minTrueValue + rng.Intn(maxTrueValue-minTrueValue),
		})
	}
	return pieces
}
