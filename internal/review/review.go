// Package review selects due cards across the deck hierarchy and drives
// a review session over them, one card at a time.
package review

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/repetition-app/repetition/internal/domain"
	"github.com/repetition-app/repetition/internal/memory"
)

// Sentinel errors returned by a session. Check with errors.Is.
var (
	ErrNoCardsDue      = errors.New("review: no cards due")
	ErrNoActiveSession = errors.New("review: no active session")
)

// CardStore is the storage collaborator a session needs. *storage.DB
// satisfies it; tests substitute an in-memory fake.
type CardStore interface {
	// Cards returns the cards of the deck (empty name means all decks),
	// optionally including descendant decks and filtering by due date.
	Cards(deck string, includeChildren, onlyDue bool) ([]domain.Card, error)
	// UpdateCardAfterReview persists one review outcome atomically.
	UpdateCardAfterReview(title string, difficulty float64, stability int, nextDue time.Time) error
}

// SelectDue returns the cards due today in the given deck and all of its
// descendant decks. An empty deck name selects due cards across every
// deck. No ordering is guaranteed; the session establishes its own.
func SelectDue(store CardStore, deck string) ([]domain.Card, error) {
	return store.Cards(deck, true, true)
}

// State identifies the phase of a review session.
type State int

const (
	Empty    State = iota // no due cards were found at start
	Active                // a card is awaiting a rating
	Finished              // every queued card has been rated
)

// Session walks a shuffled queue of due cards. It is built for a single
// synchronous caller: one session at a time, no concurrency control.
type Session struct {
	store CardStore
	state State
	queue []domain.Card

	now func() time.Time
	rng *rand.Rand
}

// NewSession creates a session over the given store. The session holds
// no cards until Start is called.
func NewSession(store CardStore) *Session {
	return &Session{
		store: store,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start selects the due cards for the deck (empty means all decks),
// shuffles them once to fix the presentation order for the session's
// lifetime, and activates the session. It returns ErrNoCardsDue when
// nothing is due, which is distinct from a session finishing after
// review.
func (s *Session) Start(deck string) error {
	due, err := SelectDue(s.store, deck)
	if err != nil {
		return fmt.Errorf("selecting due cards: %w", err)
	}
	if len(due) == 0 {
		s.state = Empty
		s.queue = nil
		return ErrNoCardsDue
	}

	s.rng.Shuffle(len(due), func(i, j int) {
		due[i], due[j] = due[j], due[i]
	})
	s.queue = due
	s.state = Active
	return nil
}

// State returns the session's current phase.
func (s *Session) State() State {
	return s.state
}

// Finished reports whether every queued card has been rated.
func (s *Session) Finished() bool {
	return s.state == Finished
}

// Current returns the card awaiting a rating, or nil if the session is
// not active.
func (s *Session) Current() *domain.Card {
	if s.state != Active {
		return nil
	}
	return &s.queue[0]
}

// Remaining returns the number of cards left to rate, including the
// current one.
func (s *Session) Remaining() int {
	if s.state != Active {
		return 0
	}
	return len(s.queue)
}

// Submit rates the current card. It reconstructs the elapsed time since
// the card's last review, runs the memory model, and persists the new
// state with a due date of today plus the new stability. On a store
// failure the queue does not advance, so the same card can be retried.
// After the last card the session transitions to Finished.
func (s *Session) Submit(rating memory.Rating) error {
	if s.state != Active {
		return ErrNoActiveSession
	}
	card := &s.queue[0]

	interval := 0
	difficulty := 0.0
	if !card.IsNew() {
		interval = card.LastReview.Interval
		difficulty = card.LastReview.Difficulty
	}

	// No last-reviewed timestamp is stored; the review date is always
	// the due date minus the interval that produced it. For a new card
	// the interval is 0 and the due date is the creation date.
	today := s.today()
	lastReviewed := card.NextDue.AddDate(0, 0, -interval)
	elapsed := int(today.Sub(lastReviewed).Hours() / 24)

	stability, newDifficulty, err := memory.Update(float64(interval), difficulty, float64(elapsed), rating, card.IsNew())
	if err != nil {
		return err
	}

	nextDue := today.AddDate(0, 0, stability)
	if err := s.store.UpdateCardAfterReview(card.Title, newDifficulty, stability, nextDue); err != nil {
		return fmt.Errorf("persisting review of %q: %w", card.Title, err)
	}

	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.state = Finished
	}
	return nil
}

// today is the current calendar date at UTC midnight.
func (s *Session) today() time.Time {
	n := s.now().UTC()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}
