// Package memory implements the forgetting-curve model that turns a
// review rating into updated stability and difficulty values.
package memory

import (
	"errors"
	"fmt"
	"math"
)

// Rating is the user's response to a card review.
type Rating int

const (
	Forgot Rating = 1
	Hard   Rating = 2
	Good   Rating = 3
	Easy   Rating = 4
)

var ratingNames = map[Rating]string{
	Forgot: "Forgot",
	Hard:   "Hard",
	Good:   "Good",
	Easy:   "Easy",
}

// IsValid reports whether r is one of the four defined ratings.
func (r Rating) IsValid() bool {
	return r >= Forgot && r <= Easy
}

// String returns the rating's name, or "Rating(n)" for invalid values.
func (r Rating) String() string {
	if name, ok := ratingNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// ErrInvalidRating is returned when a rating outside Forgot..Easy is
// submitted. Check with errors.Is.
var ErrInvalidRating = errors.New("memory: rating out of bounds")

// meanReversionRate pulls difficulty back toward a neutral value over
// repeated reviews.
const meanReversionRate = 0.2

// powZ computes x^y with the convention 0^y = 0 for y != 0, which
// math.Pow does not honor for negative non-integer exponents.
// 0^0 is never evaluated by the model.
func powZ(x, y float64) float64 {
	if x == 0 && y != 0 {
		return 0
	}
	return math.Pow(x, y)
}

// Update computes the next stability and difficulty for a card that was
// just rated. stabilityPrev and difficultyPrev are the values stored by
// the previous review; elapsedDays is the number of days since that
// review. If newCard is true both previous values are ignored and the
// initial state is derived from the rating alone.
//
// Stability is materialized as a whole number of days; difficulty keeps
// full precision. The function is pure: identical inputs always produce
// identical outputs.
func Update(stabilityPrev, difficultyPrev, elapsedDays float64, rating Rating, newCard bool) (int, float64, error) {
	if !rating.IsValid() {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidRating, int(rating))
	}
	g := float64(rating)

	s := stabilityPrev
	d := difficultyPrev
	if newCard {
		// Initial state: harder for a poorly-recalled first rating,
		// easier for a well-recalled one.
		s = 1
		d = 5 + 3 - g
	}

	// Retrievability on the forgetting curve.
	r := powZ(0.9, elapsedDays/s)

	// Difficulty moves with the rating and reverts toward neutral.
	dNext := d + 3 - g + meanReversionRate*(2-d+g)

	var sNext float64
	if rating == Forgot {
		sNext = powZ(math.E, -0.041) * powZ(dNext, -0.041) * powZ(s, 0.377) * powZ(1-r, -0.227)
	} else {
		sNext = s * (powZ(math.E, 3.81)*powZ(0.73, dNext-1)*powZ(s/-math.Log2(0.9), -0.127)*powZ(1-r, 0.970) + 1)
	}

	return int(math.Round(sNext)), dNext, nil
}
