package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/repetition-app/repetition/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// dateLayout is the storage format for calendar dates. Dates never carry
// a time-of-day component; lexicographic comparison matches chronological
// order.
const dateLayout = "2006-01-02"

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Cascading renames and deletes depend on foreign key enforcement.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Today returns the current calendar date, truncated to UTC midnight.
func Today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

// AddDeck inserts a new deck. An empty parent creates a root deck.
func (db *DB) AddDeck(name, parent string) error {
	var exists bool
	if err := db.conn.QueryRow("SELECT EXISTS(SELECT 1 FROM decks WHERE name = ?)", name).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check deck %s: %w", name, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDeckExists, name)
	}
	if parent != "" {
		if err := db.requireDeck(parent); err != nil {
			return err
		}
	}

	_, err := db.conn.Exec("INSERT INTO decks (name, parent) VALUES (?, ?)", name, nullable(parent))
	if err != nil {
		return fmt.Errorf("failed to insert deck %s: %w", name, err)
	}
	return nil
}

// RenameDeck changes a deck's name. The rename cascades to child decks
// and cards through the schema's foreign keys, so the whole identity
// change is a single statement.
func (db *DB) RenameDeck(oldName, newName string) error {
	var exists bool
	if err := db.conn.QueryRow("SELECT EXISTS(SELECT 1 FROM decks WHERE name = ?)", newName).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check deck %s: %w", newName, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDeckExists, newName)
	}

	res, err := db.conn.Exec("UPDATE decks SET name = ? WHERE name = ?", newName, oldName)
	if err != nil {
		return fmt.Errorf("failed to rename deck %s: %w", oldName, err)
	}
	return requireRows(res, ErrUnknownDeck, oldName)
}

// SetDeckParent moves a deck under another deck, or to the root when
// parent is empty. No check is made that the new parent is not a
// descendant of the deck; reparenting a deck under its own subtree
// creates a cycle and leaves those decks unreachable from the roots.
func (db *DB) SetDeckParent(name, parent string) error {
	if parent != "" {
		if err := db.requireDeck(parent); err != nil {
			return err
		}
	}
	res, err := db.conn.Exec("UPDATE decks SET parent = ? WHERE name = ?", nullable(parent), name)
	if err != nil {
		return fmt.Errorf("failed to reparent deck %s: %w", name, err)
	}
	return requireRows(res, ErrUnknownDeck, name)
}

// DeleteDeck removes a deck, all of its descendant decks, and every card
// owned by any of them.
func (db *DB) DeleteDeck(name string) error {
	res, err := db.conn.Exec("DELETE FROM decks WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete deck %s: %w", name, err)
	}
	return requireRows(res, ErrUnknownDeck, name)
}

// Decks retrieves all decks.
func (db *DB) Decks() ([]domain.Deck, error) {
	rows, err := db.conn.Query("SELECT name, parent FROM decks ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to get decks: %w", err)
	}
	defer rows.Close()

	var decks []domain.Deck
	for rows.Next() {
		var d domain.Deck
		var parent sql.NullString
		if err := rows.Scan(&d.Name, &parent); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		d.Parent = parent.String
		decks = append(decks, d)
	}
	return decks, rows.Err()
}

// DescendantDecks returns the names of the deck and all of its
// transitive descendants.
func (db *DB) DescendantDecks(name string) ([]string, error) {
	rows, err := db.conn.Query(`
		WITH RECURSIVE deck_tree(name) AS (
			SELECT name FROM decks WHERE name = ?
			UNION ALL
			SELECT d.name
			FROM decks d
			JOIN deck_tree dt ON dt.name = d.parent
		)
		SELECT name FROM deck_tree
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get descendants of deck %s: %w", name, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan deck name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeck, name)
	}
	return names, nil
}

// AddCard inserts a new card into the given deck. The card starts with
// no review state and is due immediately: next_due_date is initialized
// to the creation date.
func (db *DB) AddCard(deck, title, filename string) error {
	var exists bool
	if err := db.conn.QueryRow("SELECT EXISTS(SELECT 1 FROM cards WHERE title = ?)", title).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check card %s: %w", title, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCardExists, title)
	}
	if err := db.requireDeck(deck); err != nil {
		return err
	}

	today := Today().Format(dateLayout)
	_, err := db.conn.Exec(`
		INSERT INTO cards (title, filename, created_at, next_due_date, last_difficulty, last_interval, deck)
		VALUES (?, ?, ?, ?, NULL, NULL, ?)
	`, title, nullable(filename), today, today, deck)
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", title, err)
	}
	return nil
}

// Card retrieves a single card by title.
func (db *DB) Card(title string) (domain.Card, error) {
	row := db.conn.QueryRow(`
		SELECT title, filename, created_at, next_due_date, last_difficulty, last_interval, deck
		FROM cards WHERE title = ?
	`, title)

	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return domain.Card{}, fmt.Errorf("%w: %s", ErrUnknownCard, title)
	}
	if err != nil {
		return domain.Card{}, fmt.Errorf("failed to get card %s: %w", title, err)
	}
	return card, nil
}

// Cards returns the cards of the given deck. An empty deck name selects
// every card across all decks. With includeChildren the selection covers
// the deck's full subtree; with onlyDue it is restricted to cards whose
// due date is on or before today.
func (db *DB) Cards(deck string, includeChildren, onlyDue bool) ([]domain.Card, error) {
	var sb strings.Builder
	var args []any

	if deck == "" {
		sb.WriteString(`
			SELECT title, filename, created_at, next_due_date, last_difficulty, last_interval, deck
			FROM cards
		`)
		if onlyDue {
			sb.WriteString(" WHERE next_due_date <= ?")
			args = append(args, Today().Format(dateLayout))
		}
	} else if includeChildren {
		sb.WriteString(`
			WITH RECURSIVE deck_tree(name) AS (
				SELECT name FROM decks WHERE name = ?
				UNION ALL
				SELECT d.name
				FROM decks d
				JOIN deck_tree dt ON dt.name = d.parent
			)
			SELECT c.title, c.filename, c.created_at, c.next_due_date, c.last_difficulty, c.last_interval, c.deck
			FROM cards AS c
			JOIN deck_tree AS dt ON c.deck = dt.name
		`)
		args = append(args, deck)
		if onlyDue {
			sb.WriteString(" WHERE c.next_due_date <= ?")
			args = append(args, Today().Format(dateLayout))
		}
	} else {
		sb.WriteString(`
			SELECT title, filename, created_at, next_due_date, last_difficulty, last_interval, deck
			FROM cards WHERE deck = ?
		`)
		args = append(args, deck)
		if onlyDue {
			sb.WriteString(" AND next_due_date <= ?")
			args = append(args, Today().Format(dateLayout))
		}
	}

	rows, err := db.conn.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for deck %q: %w", deck, err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// UpdateCardAfterReview persists the outcome of a single review. This is
// the only write path for the due date and the interval, which must stay
// consistent with each other: elapsed review time is later reconstructed
// as next_due_date minus last_interval.
func (db *DB) UpdateCardAfterReview(title string, difficulty float64, stability int, nextDue time.Time) error {
	res, err := db.conn.Exec(`
		UPDATE cards
		SET last_difficulty = ?, last_interval = ?, next_due_date = ?
		WHERE title = ?
	`, difficulty, stability, nextDue.Format(dateLayout), title)
	if err != nil {
		return fmt.Errorf("failed to update card %s after review: %w", title, err)
	}
	return requireRows(res, ErrUnknownCard, title)
}

// RenameCard changes a card's title while preserving its review state.
func (db *DB) RenameCard(oldTitle, newTitle string) error {
	var exists bool
	if err := db.conn.QueryRow("SELECT EXISTS(SELECT 1 FROM cards WHERE title = ?)", newTitle).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check card %s: %w", newTitle, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCardExists, newTitle)
	}

	res, err := db.conn.Exec("UPDATE cards SET title = ? WHERE title = ?", newTitle, oldTitle)
	if err != nil {
		return fmt.Errorf("failed to rename card %s: %w", oldTitle, err)
	}
	return requireRows(res, ErrUnknownCard, oldTitle)
}

// DeleteCard removes a card. The caller is responsible for removing any
// attachment file first; the store only owns the row.
func (db *DB) DeleteCard(title string) error {
	res, err := db.conn.Exec("DELETE FROM cards WHERE title = ?", title)
	if err != nil {
		return fmt.Errorf("failed to delete card %s: %w", title, err)
	}
	return requireRows(res, ErrUnknownCard, title)
}

func (db *DB) requireDeck(name string) error {
	var exists bool
	if err := db.conn.QueryRow("SELECT EXISTS(SELECT 1 FROM decks WHERE name = ?)", name).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check deck %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownDeck, name)
	}
	return nil
}

func requireRows(res sql.Result, sentinel error, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", sentinel, key)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type scanner interface {
	Scan(dest ...any) error
}

// scanCard reads a card row. A row where exactly one of last_difficulty
// and last_interval is NULL violates the review-state invariant and is
// rejected rather than guessed at.
func scanCard(row scanner) (domain.Card, error) {
	var (
		card       domain.Card
		filename   sql.NullString
		createdAt  string
		nextDue    string
		difficulty sql.NullFloat64
		interval   sql.NullInt64
	)
	if err := row.Scan(&card.Title, &filename, &createdAt, &nextDue, &difficulty, &interval, &card.Deck); err != nil {
		return domain.Card{}, err
	}

	card.Attachment = filename.String

	var err error
	if card.CreatedAt, err = time.Parse(dateLayout, createdAt); err != nil {
		return domain.Card{}, fmt.Errorf("bad created_at for card %s: %w", card.Title, err)
	}
	if card.NextDue, err = time.Parse(dateLayout, nextDue); err != nil {
		return domain.Card{}, fmt.Errorf("bad next_due_date for card %s: %w", card.Title, err)
	}

	if difficulty.Valid != interval.Valid {
		return domain.Card{}, fmt.Errorf("card %s has inconsistent review state", card.Title)
	}
	if difficulty.Valid {
		card.LastReview = &domain.ReviewState{
			Difficulty: difficulty.Float64,
			Interval:   int(interval.Int64),
		}
	}
	return card, nil
}
