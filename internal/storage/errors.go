package storage

import "errors"

// Sentinel errors returned by the store. Check with errors.Is.
var (
	ErrDeckExists  = errors.New("storage: deck already exists")
	ErrCardExists  = errors.New("storage: card already exists")
	ErrUnknownDeck = errors.New("storage: deck does not exist")
	ErrUnknownCard = errors.New("storage: card does not exist")
)
