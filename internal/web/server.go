// Package web is the presentation surface: an htmx-style HTML interface
// over the deck tree, the review session, and collection management.
package web

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/repetition-app/repetition/internal/archive"
	"github.com/repetition-app/repetition/internal/attach"
	"github.com/repetition-app/repetition/internal/backup"
	"github.com/repetition-app/repetition/internal/domain"
	"github.com/repetition-app/repetition/internal/memory"
	"github.com/repetition-app/repetition/internal/review"
	"github.com/repetition-app/repetition/internal/storage"
)

//go:embed templates/*.html
var templateFiles embed.FS

// Server holds the dependencies for the HTTP server.
type Server struct {
	mu          sync.Mutex
	db          *storage.DB
	attachments *attach.Store
	dataDir     string
	session     *review.Session
	router      *http.ServeMux
	templates   *template.Template
}

// NewServer creates and configures a new server. dataDir is the
// collection directory holding the card database.
func NewServer(db *storage.DB, attachments *attach.Store, dataDir string) (*Server, error) {
	tpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		db:          db,
		attachments: attachments,
		dataDir:     dataDir,
		router:      http.NewServeMux(),
		templates:   tpl,
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements the http.Handler interface. The engine itself is
// single-writer; the mutex only serializes the handlers net/http runs
// concurrently.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /{$}", s.handleIndex)

	s.router.HandleFunc("POST /decks", s.handleCreateDeck)
	s.router.HandleFunc("POST /decks/rename", s.handleRenameDeck)
	s.router.HandleFunc("POST /decks/parent", s.handleReparentDeck)
	s.router.HandleFunc("POST /decks/delete", s.handleDeleteDeck)

	s.router.HandleFunc("POST /cards", s.handleCreateCard)
	s.router.HandleFunc("POST /cards/rename", s.handleRenameCard)
	s.router.HandleFunc("POST /cards/delete", s.handleDeleteCard)
	s.router.HandleFunc("GET /attachments/{name}", s.handleGetAttachment)

	s.router.HandleFunc("POST /study", s.handleStartStudy)
	s.router.HandleFunc("POST /study/grade", s.handleGrade)

	s.router.HandleFunc("GET /export", s.handleExport)
	s.router.HandleFunc("POST /import", s.handleImport)
	s.router.HandleFunc("POST /backup", s.handleBackup)
}

// deckView is one row of the deck tree with its due-card count.
type deckView struct {
	domain.Deck
	DueCount int
}

// handleIndex renders the deck tree with due counts.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	decks, err := s.db.Decks()
	if err != nil {
		s.internalError(w, "listing decks", err)
		return
	}

	views := make([]deckView, 0, len(decks))
	totalDue := 0
	for _, d := range decks {
		due, err := review.SelectDue(s.db, d.Name)
		if err != nil {
			s.internalError(w, "counting due cards", err)
			return
		}
		views = append(views, deckView{Deck: d, DueCount: len(due)})
	}
	allDue, err := review.SelectDue(s.db, "")
	if err != nil {
		s.internalError(w, "counting due cards", err)
		return
	}
	totalDue = len(allDue)

	s.render(w, "index", map[string]any{
		"Decks":    views,
		"TotalDue": totalDue,
	})
}

// handleStartStudy begins a review session for the posted deck, or for
// all decks when the deck field is empty.
func (s *Server) handleStartStudy(w http.ResponseWriter, r *http.Request) {
	deck := r.PostFormValue("deck")

	session := review.NewSession(s.db)
	if err := session.Start(deck); err != nil {
		if errors.Is(err, review.ErrNoCardsDue) {
			s.render(w, "message", "This deck does not have any due cards.")
			return
		}
		s.internalError(w, "starting session", err)
		return
	}
	s.session = session
	s.renderCurrentCard(w)
}

// handleGrade submits a rating for the current card and shows the next
// one, or the finished message after the last card.
func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		s.render(w, "message", "No review session is active.")
		return
	}

	grade, err := strconv.Atoi(r.PostFormValue("grade"))
	if err != nil {
		http.Error(w, "Invalid grade", http.StatusBadRequest)
		return
	}

	if err := s.session.Submit(memory.Rating(grade)); err != nil {
		switch {
		case errors.Is(err, memory.ErrInvalidRating):
			http.Error(w, "Invalid grade", http.StatusBadRequest)
		case errors.Is(err, review.ErrNoActiveSession):
			s.render(w, "message", "No review session is active.")
		default:
			// The session did not advance; the same card can be retried.
			s.internalError(w, "saving review", err)
		}
		return
	}

	if s.session.Finished() {
		s.session = nil
		s.render(w, "message", "Session finished. All due cards reviewed.")
		return
	}
	s.renderCurrentCard(w)
}

func (s *Server) renderCurrentCard(w http.ResponseWriter) {
	card := s.session.Current()
	s.render(w, "card", map[string]any{
		"Card":      card,
		"Remaining": s.session.Remaining(),
	})
}

// handleCreateDeck adds a deck, optionally under a parent.
func (s *Server) handleCreateDeck(w http.ResponseWriter, r *http.Request) {
	name := r.PostFormValue("name")
	if name == "" {
		http.Error(w, "Deck name cannot be empty", http.StatusBadRequest)
		return
	}
	if err := s.db.AddDeck(name, r.PostFormValue("parent")); err != nil {
		s.storeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRenameDeck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.RenameDeck(r.PostFormValue("old"), r.PostFormValue("new")); err != nil {
		s.storeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleReparentDeck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.SetDeckParent(r.PostFormValue("name"), r.PostFormValue("parent")); err != nil {
		s.storeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleDeleteDeck removes a deck and its whole subtree, including the
// attachment files of every card in it.
func (s *Server) handleDeleteDeck(w http.ResponseWriter, r *http.Request) {
	name := r.PostFormValue("name")

	cards, err := s.db.Cards(name, true, false)
	if err != nil {
		s.storeError(w, err)
		return
	}
	for _, card := range cards {
		if err := s.attachments.Remove(card.Attachment); err != nil {
			slog.Warn("failed to remove attachment", "card", card.Title, "error", err)
		}
	}

	if err := s.db.DeleteDeck(name); err != nil {
		s.storeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleCreateCard adds a card with an optional file attachment.
func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Bad form", http.StatusBadRequest)
		return
	}
	deck := r.PostFormValue("deck")
	title := r.PostFormValue("title")
	if deck == "" || title == "" {
		http.Error(w, "Deck and title are required", http.StatusBadRequest)
		return
	}

	filename := ""
	if file, header, err := r.FormFile("attachment"); err == nil {
		defer file.Close()
		filename, err = s.attachments.Save(title, header.Filename, file)
		if err != nil {
			s.internalError(w, "storing attachment", err)
			return
		}
	}

	if err := s.db.AddCard(deck, title, filename); err != nil {
		// Don't leave an orphaned attachment behind.
		if rmErr := s.attachments.Remove(filename); rmErr != nil {
			slog.Warn("failed to remove attachment", "card", title, "error", rmErr)
		}
		s.storeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRenameCard(w http.ResponseWriter, r *http.Request) {
	if err := s.db.RenameCard(r.PostFormValue("old"), r.PostFormValue("new")); err != nil {
		s.storeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	title := r.PostFormValue("title")

	card, err := s.db.Card(title)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.attachments.Remove(card.Attachment); err != nil {
		slog.Warn("failed to remove attachment", "card", title, "error", err)
	}
	if err := s.db.DeleteCard(title); err != nil {
		s.storeError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleGetAttachment serves a stored attachment file.
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name != filepath.Base(name) {
		http.Error(w, "Invalid attachment name", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, s.attachments.Path(name))
}

// handleExport streams the whole collection as a zip archive.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="collection.zip"`)
	if err := archive.Export(s.dataDir, w); err != nil {
		slog.Error("export failed", "error", err)
	}
}

// handleImport replaces the collection with an uploaded archive. The
// database is closed for the swap and reopened afterwards; any active
// session is discarded.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(256 << 20); err != nil {
		http.Error(w, "Bad form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("archive")
	if err != nil {
		http.Error(w, "Missing archive upload", http.StatusBadRequest)
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "repetition-import-*.zip")
	if err != nil {
		s.internalError(w, "staging import", err)
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.internalError(w, "staging import", err)
		return
	}
	tmp.Close()

	if err := s.db.Close(); err != nil {
		s.internalError(w, "closing database", err)
		return
	}
	importErr := archive.Import(tmp.Name(), s.dataDir)

	db, err := storage.Open(filepath.Join(s.dataDir, archive.DatabaseName))
	if err != nil {
		s.internalError(w, "reopening database", err)
		return
	}
	s.db = db
	s.session = nil

	if importErr != nil {
		if errors.Is(importErr, archive.ErrInvalidArchive) {
			s.render(w, "message", "Selected archive is not valid: missing database.")
			return
		}
		s.internalError(w, "importing collection", importErr)
		return
	}
	s.render(w, "message", "Import successful.")
}

// handleBackup records a git snapshot of the collection directory.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	hash, err := backup.Snapshot(s.dataDir, "snapshot "+time.Now().UTC().Format(time.RFC3339))
	if errors.Is(err, backup.ErrNoChanges) {
		s.render(w, "message", "Nothing changed since the last backup.")
		return
	}
	if err != nil {
		s.internalError(w, "creating backup", err)
		return
	}
	s.render(w, "message", "Backup recorded: "+hash[:12])
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("template render failed", "template", name, "error", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	slog.Error(action+" failed", "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

// storeError maps store sentinel errors to client errors.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrDeckExists), errors.Is(err, storage.ErrCardExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, storage.ErrUnknownDeck), errors.Is(err, storage.ErrUnknownCard):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		s.internalError(w, "store operation", err)
	}
}
