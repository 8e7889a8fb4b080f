// Package backup keeps a versioned history of the collection directory
// in a local git repository.
package backup

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNoChanges is returned by Snapshot when the collection has not
// changed since the previous snapshot.
var ErrNoChanges = errors.New("backup: no changes since last snapshot")

// Snapshot commits the current contents of the collection directory to
// a git repository rooted at that directory, initializing the
// repository on first use. It returns the commit hash.
func Snapshot(dir, message string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open backup repository at %s: %w", dir, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage collection files: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "repetition",
			Email: "repetition@localhost",
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return "", ErrNoChanges
	}
	if err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return hash.String(), nil
}

// Snapshots returns the number of snapshots recorded so far. A missing
// repository counts as zero.
func Snapshots(dir string) (int, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open backup repository at %s: %w", dir, err)
	}

	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot history: %w", err)
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk snapshot history: %w", err)
	}
	return count, nil
}
