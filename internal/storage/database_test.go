package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cards.db"))
	if err != nil {
		t.Fatalf("Open() returned an unexpected error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// buildTree creates languages > spanish > verbs plus an unrelated deck.
func buildTree(t *testing.T, db *DB) {
	t.Helper()
	for _, d := range []struct{ name, parent string }{
		{"languages", ""},
		{"spanish", "languages"},
		{"verbs", "spanish"},
		{"geography", ""},
	} {
		if err := db.AddDeck(d.name, d.parent); err != nil {
			t.Fatalf("AddDeck(%s) returned an unexpected error: %v", d.name, err)
		}
	}
}

func TestAddDeck(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)

	if err := db.AddDeck("languages", ""); !errors.Is(err, ErrDeckExists) {
		t.Errorf("Expected ErrDeckExists for duplicate deck, got %v", err)
	}
	if err := db.AddDeck("orphan", "nonexistent"); !errors.Is(err, ErrUnknownDeck) {
		t.Errorf("Expected ErrUnknownDeck for missing parent, got %v", err)
	}

	decks, err := db.Decks()
	if err != nil {
		t.Fatalf("Decks() returned an unexpected error: %v", err)
	}
	if len(decks) != 4 {
		t.Errorf("Expected 4 decks, got %d", len(decks))
	}
}

func TestDescendantDecks(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)

	names, err := db.DescendantDecks("languages")
	if err != nil {
		t.Fatalf("DescendantDecks returned an unexpected error: %v", err)
	}
	want := map[string]bool{"languages": true, "spanish": true, "verbs": true}
	if len(names) != len(want) {
		t.Fatalf("Expected %d decks, got %v", len(want), names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("Unexpected deck %q in descendants", n)
		}
	}

	leaf, err := db.DescendantDecks("verbs")
	if err != nil {
		t.Fatalf("DescendantDecks returned an unexpected error: %v", err)
	}
	if len(leaf) != 1 || leaf[0] != "verbs" {
		t.Errorf("Expected a leaf deck to contain only itself, got %v", leaf)
	}

	if _, err := db.DescendantDecks("nonexistent"); !errors.Is(err, ErrUnknownDeck) {
		t.Errorf("Expected ErrUnknownDeck, got %v", err)
	}
}

func TestAddCard(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)

	if err := db.AddCard("spanish", "ser vs estar", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}
	if err := db.AddCard("spanish", "ser vs estar", ""); !errors.Is(err, ErrCardExists) {
		t.Errorf("Expected ErrCardExists for duplicate title, got %v", err)
	}
	if err := db.AddCard("nonexistent", "lost", ""); !errors.Is(err, ErrUnknownDeck) {
		t.Errorf("Expected ErrUnknownDeck, got %v", err)
	}

	card, err := db.Card("ser vs estar")
	if err != nil {
		t.Fatalf("Card returned an unexpected error: %v", err)
	}
	if !card.IsNew() {
		t.Error("Expected a freshly created card to be new")
	}
	if !card.NextDue.Equal(card.CreatedAt) {
		t.Errorf("Expected next due date %v to equal creation date %v", card.NextDue, card.CreatedAt)
	}
	if !card.NextDue.Equal(Today()) {
		t.Errorf("Expected a new card to be due today, got %v", card.NextDue)
	}

	if _, err := db.Card("nonexistent"); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("Expected ErrUnknownCard, got %v", err)
	}
}

func TestCardsSubtreeSelection(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)

	// A card in the grandchild deck and one in an unrelated deck; both due.
	if err := db.AddCard("verbs", "ir", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}
	if err := db.AddCard("geography", "capital of peru", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}

	fromGrandparent, err := db.Cards("languages", true, true)
	if err != nil {
		t.Fatalf("Cards returned an unexpected error: %v", err)
	}
	if len(fromGrandparent) != 1 || fromGrandparent[0].Title != "ir" {
		t.Errorf("Expected the grandchild's card when selecting the grandparent, got %v", fromGrandparent)
	}

	fromSibling, err := db.Cards("geography", true, true)
	if err != nil {
		t.Fatalf("Cards returned an unexpected error: %v", err)
	}
	if len(fromSibling) != 1 || fromSibling[0].Title != "capital of peru" {
		t.Errorf("Expected only the sibling deck's own card, got %v", fromSibling)
	}

	all, err := db.Cards("", true, true)
	if err != nil {
		t.Fatalf("Cards returned an unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected all 2 due cards with no deck given, got %d", len(all))
	}

	direct, err := db.Cards("languages", false, false)
	if err != nil {
		t.Fatalf("Cards returned an unexpected error: %v", err)
	}
	if len(direct) != 0 {
		t.Errorf("Expected no cards directly in the grandparent deck, got %d", len(direct))
	}
}

func TestCardsDueFilter(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)

	if err := db.AddCard("spanish", "ser vs estar", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}
	if err := db.AddCard("spanish", "subjunctive", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}

	// Push one card into the future.
	if err := db.UpdateCardAfterReview("subjunctive", 5.0, 3, Today().AddDate(0, 0, 3)); err != nil {
		t.Fatalf("UpdateCardAfterReview returned an unexpected error: %v", err)
	}

	due, err := db.Cards("spanish", true, true)
	if err != nil {
		t.Fatalf("Cards returned an unexpected error: %v", err)
	}
	if len(due) != 1 || due[0].Title != "ser vs estar" {
		t.Errorf("Expected only the still-due card, got %v", due)
	}

	both, err := db.Cards("spanish", true, false)
	if err != nil {
		t.Fatalf("Cards returned an unexpected error: %v", err)
	}
	if len(both) != 2 {
		t.Errorf("Expected both cards without the due filter, got %d", len(both))
	}
}

func TestUpdateCardAfterReview(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)
	if err := db.AddCard("spanish", "ser vs estar", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}

	nextDue := Today().AddDate(0, 0, 7)
	if err := db.UpdateCardAfterReview("ser vs estar", 4.6, 7, nextDue); err != nil {
		t.Fatalf("UpdateCardAfterReview returned an unexpected error: %v", err)
	}

	card, err := db.Card("ser vs estar")
	if err != nil {
		t.Fatalf("Card returned an unexpected error: %v", err)
	}
	if card.IsNew() {
		t.Fatal("Expected the card to no longer be new after a review")
	}
	if card.LastReview.Difficulty != 4.6 || card.LastReview.Interval != 7 {
		t.Errorf("Unexpected review state: %+v", card.LastReview)
	}
	if !card.NextDue.Equal(nextDue) {
		t.Errorf("Expected next due %v, got %v", nextDue, card.NextDue)
	}

	if err := db.UpdateCardAfterReview("nonexistent", 5, 1, nextDue); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("Expected ErrUnknownCard, got %v", err)
	}
}

func TestRenameDeckCascades(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)
	if err := db.AddCard("spanish", "ser vs estar", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}

	if err := db.RenameDeck("spanish", "castilian"); err != nil {
		t.Fatalf("RenameDeck returned an unexpected error: %v", err)
	}

	card, err := db.Card("ser vs estar")
	if err != nil {
		t.Fatalf("Card returned an unexpected error: %v", err)
	}
	if card.Deck != "castilian" {
		t.Errorf("Expected the card to follow the deck rename, got deck %q", card.Deck)
	}

	names, err := db.DescendantDecks("castilian")
	if err != nil {
		t.Fatalf("DescendantDecks returned an unexpected error: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("Expected the child deck to follow the rename, got %v", names)
	}

	if err := db.RenameDeck("nonexistent", "x"); !errors.Is(err, ErrUnknownDeck) {
		t.Errorf("Expected ErrUnknownDeck, got %v", err)
	}
	if err := db.RenameDeck("castilian", "geography"); !errors.Is(err, ErrDeckExists) {
		t.Errorf("Expected ErrDeckExists, got %v", err)
	}
}

func TestDeleteDeckCascades(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)
	if err := db.AddCard("verbs", "ir", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}
	if err := db.AddCard("geography", "capital of peru", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}

	if err := db.DeleteDeck("languages"); err != nil {
		t.Fatalf("DeleteDeck returned an unexpected error: %v", err)
	}

	if _, err := db.Card("ir"); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("Expected the grandchild's card to be deleted, got %v", err)
	}
	decks, err := db.Decks()
	if err != nil {
		t.Fatalf("Decks returned an unexpected error: %v", err)
	}
	if len(decks) != 1 || decks[0].Name != "geography" {
		t.Errorf("Expected only the unrelated deck to survive, got %v", decks)
	}
	if _, err := db.Card("capital of peru"); err != nil {
		t.Errorf("Expected the unrelated deck's card to survive, got %v", err)
	}
}

func TestSetDeckParent(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)

	if err := db.SetDeckParent("geography", "languages"); err != nil {
		t.Fatalf("SetDeckParent returned an unexpected error: %v", err)
	}
	names, err := db.DescendantDecks("languages")
	if err != nil {
		t.Fatalf("DescendantDecks returned an unexpected error: %v", err)
	}
	if len(names) != 4 {
		t.Errorf("Expected 4 decks in the subtree after reparenting, got %v", names)
	}

	if err := db.SetDeckParent("geography", ""); err != nil {
		t.Fatalf("SetDeckParent to root returned an unexpected error: %v", err)
	}
	if err := db.SetDeckParent("nonexistent", ""); !errors.Is(err, ErrUnknownDeck) {
		t.Errorf("Expected ErrUnknownDeck, got %v", err)
	}
}

func TestRenameAndDeleteCard(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)
	if err := db.AddCard("spanish", "ser vs estar", ""); err != nil {
		t.Fatalf("AddCard returned an unexpected error: %v", err)
	}
	if err := db.UpdateCardAfterReview("ser vs estar", 4.6, 7, Today().AddDate(0, 0, 7)); err != nil {
		t.Fatalf("UpdateCardAfterReview returned an unexpected error: %v", err)
	}

	if err := db.RenameCard("ser vs estar", "ser versus estar"); err != nil {
		t.Fatalf("RenameCard returned an unexpected error: %v", err)
	}
	card, err := db.Card("ser versus estar")
	if err != nil {
		t.Fatalf("Card returned an unexpected error: %v", err)
	}
	if card.IsNew() || card.LastReview.Interval != 7 {
		t.Errorf("Expected the review state to survive a rename, got %+v", card.LastReview)
	}

	if err := db.RenameCard("nonexistent", "x"); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("Expected ErrUnknownCard, got %v", err)
	}

	if err := db.DeleteCard("ser versus estar"); err != nil {
		t.Fatalf("DeleteCard returned an unexpected error: %v", err)
	}
	if err := db.DeleteCard("ser versus estar"); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("Expected ErrUnknownCard for a deleted card, got %v", err)
	}
}

func TestScanRejectsInconsistentReviewState(t *testing.T) {
	db := openTestDB(t)
	buildTree(t, db)

	// Write a row that violates the paired-NULL invariant directly.
	today := Today().Format(dateLayout)
	if _, err := db.conn.Exec(`
		INSERT INTO cards (title, filename, created_at, next_due_date, last_difficulty, last_interval, deck)
		VALUES ('broken', NULL, ?, ?, 5.0, NULL, 'spanish')
	`, today, today); err != nil {
		t.Fatalf("raw insert returned an unexpected error: %v", err)
	}

	if _, err := db.Card("broken"); err == nil {
		t.Error("Expected an error for a half-reviewed row, got nil")
	}
}

func TestToday(t *testing.T) {
	today := Today()
	if today.Hour() != 0 || today.Minute() != 0 || today.Second() != 0 {
		t.Errorf("Expected Today to be truncated to midnight, got %v", today)
	}
	if today.Location() != time.UTC {
		t.Errorf("Expected Today in UTC, got %v", today.Location())
	}
}
