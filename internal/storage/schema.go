package storage

const schema = `
-- The 'decks' table forms a forest: a NULL parent marks a root deck.
-- Renames and deletes cascade through the parent reference.
CREATE TABLE IF NOT EXISTS decks (
    name TEXT NOT NULL PRIMARY KEY,
    parent TEXT NULL,

    FOREIGN KEY (parent) REFERENCES decks(name) ON DELETE CASCADE ON UPDATE CASCADE
);

-- The 'cards' table stores one row per reviewable card. last_difficulty
-- and last_interval are NULL together exactly while the card has never
-- been reviewed. Dates carry no time-of-day component.
CREATE TABLE IF NOT EXISTS cards (
    title TEXT PRIMARY KEY,
    filename TEXT,
    created_at DATE NOT NULL,
    next_due_date DATE NOT NULL,
    last_difficulty FLOAT,
    last_interval INTEGER,
    deck TEXT NOT NULL,

    FOREIGN KEY (deck) REFERENCES decks(name) ON DELETE CASCADE ON UPDATE CASCADE
);
`
