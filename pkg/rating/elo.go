// Package rating settles rating changes for finished games.
package rating

import "math"

// Result of a game from white's point of view.
type Result string

const (
	ResultWhiteWins Result = "white"
	ResultBlackWins Result = "black"
	ResultDraw      Result = "draw"
)

// Rated is the immutable rating snapshot of one player.
type Rated struct {
	ID     string
	Rating int
}

// Settler produces a signed rating delta per player for a decisive or
// drawn result.
type Settler interface {
	Settle(white, black Rated, result Result) (deltaWhite, deltaBlack int)
}

// Elo implements the standard Elo formula.
type Elo struct {
	K float64
}

// NewElo returns an Elo settler with the default K-factor.
func NewElo() *Elo {
	return &Elo{K: 32}
}

// Settle computes both deltas. Deltas are rounded toward zero so a
// player never gains or loses more than the raw formula allows.
func (e *Elo) Settle(white, black Rated, result Result) (int, int) {
	var scoreWhite float64
	switch result {
	case ResultWhiteWins:
		scoreWhite = 1.0
	case ResultBlackWins:
		scoreWhite = 0.0
	case ResultDraw:
		scoreWhite = 0.5
	default:
		return 0, 0
	}

	expectedWhite := 1 / (1 + math.Pow(10, float64(black.Rating-white.Rating)/400))
	expectedBlack := 1 - expectedWhite

	deltaWhite := int(e.K * (scoreWhite - expectedWhite))
	deltaBlack := int(e.K * ((1 - scoreWhite) - expectedBlack))

	return deltaWhite, deltaBlack
}
