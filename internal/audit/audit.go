// Package audit keeps a per-item git history of document revisions. Each
// item gets its own bare-bones repository under the base directory with a
// single main branch and one tracked file, document.xml. The history is a
// review aid; the relational store stays the source of truth.
package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const documentFile = "document.xml"

// CommitInfo is one revision in an item's history.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	author  string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates the audit service. author names the committer for pipeline
// writes; there is no per-request actor, the pipeline itself commits.
func New(baseDir, author string) *Service {
	if author == "" {
		author = "itemforge"
	}
	return &Service{
		baseDir: baseDir,
		author:  author,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitDocument writes the document as a new revision of the item,
// initializing the repository on first use.
func (s *Service) CommitDocument(itemID, document, message string) error {
	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(itemID)
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, documentFile), []byte(document), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", documentFile, err)
	}
	if _, err := worktree.Add(documentFile); err != nil {
		return fmt.Errorf("git add: %w", err)
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.author,
			Email: s.author + "@local.itemforge.dev",
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit document: %w", err)
	}
	return nil
}

// History lists revisions newest-first, up to limit (0 means all).
// An item that was never committed has an empty history, not an error.
func (s *Service) History(itemID string, limit int) ([]CommitInfo, error) {
	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(itemID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []CommitInfo{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	commits := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		commits = append(commits, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return commits, nil
}

// DocumentAt returns the document content at a given revision.
func (s *Service) DocumentAt(itemID, hash string) (string, error) {
	lock := s.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(itemID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(documentFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", documentFile, err)
	}
	content, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read document contents: %w", err)
	}
	return content, nil
}

func (s *Service) openOrInit(itemID string) (*git.Repository, error) {
	path := s.repoPath(itemID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	// First commit lands on main regardless of the init default branch.
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(itemID string) string {
	return filepath.Join(s.baseDir, itemID)
}

func (s *Service) itemLock(itemID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[itemID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[itemID] = lock
	return lock
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
