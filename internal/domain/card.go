package domain

import "time"

// Deck is a named group of cards. Decks form a forest: a deck with an
// empty Parent is a root deck.
type Deck struct {
	Name   string
	Parent string
}

// ReviewState holds the memory state produced by a card's most recent
// review. Interval is the stability, in whole days, that produced the
// card's current due date; the two are only ever written together.
type ReviewState struct {
	Difficulty float64
	Interval   int
}

// Card represents a single reviewable item. Title is the card's identity;
// renaming replaces the key but preserves the card.
type Card struct {
	Title      string
	Deck       string
	CreatedAt  time.Time
	NextDue    time.Time
	Attachment string // stored attachment file name, empty if none
	LastReview *ReviewState
}

// IsNew reports whether the card has never been reviewed.
func (c *Card) IsNew() bool {
	return c.LastReview == nil
}
