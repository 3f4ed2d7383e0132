package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "prepai/internal/errors"

	"github.com/fsnotify/fsnotify"
)

// TokenSource yields the bearer credential attached to remote requests. An
// empty token means the request is sent without an Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

// Token implements TokenSource.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// FileTokenSource reads the token from a file and, when watching, reloads it
// whenever the file is written or replaced.
type FileTokenSource struct {
	path   string
	logger *apperrors.Logger

	mu    sync.RWMutex
	token string

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileTokenSource loads the token at path. With watch set, a background
// watcher keeps it current until Close.
func NewFileTokenSource(path string, watch bool, logger *apperrors.Logger) (*FileTokenSource, error) {
	s := &FileTokenSource{path: path, logger: logger, done: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}
	if !watch {
		return s, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create token file watcher: %w", err)
	}
	// Watch the directory so atomic replace (write temp + rename) is seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch token file directory: %w", err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.watch()
	return s, nil
}

// Token implements TokenSource.
func (s *FileTokenSource) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *FileTokenSource) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return apperrors.NewConfigError(apperrors.ErrCodeFileNotReadable, "failed to read API token file", err).
			WithContext("path", s.path)
	}
	token := strings.TrimSpace(string(data))

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *FileTokenSource) watch() {
	defer s.wg.Done()
	target := filepath.Clean(s.path)

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				// Keep serving the previous token while the file is mid-replace.
				s.logger.Warn("Failed to reload API token", "path", s.path, "error", err.Error())
				continue
			}
			s.logger.Info("API token reloaded", "path", s.path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Token file watcher error", "error", err.Error())
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (s *FileTokenSource) Close() error {
	if s.watcher == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}
