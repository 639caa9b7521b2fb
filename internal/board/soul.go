package board

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SoulLoader loads per-role personality text ("soul files") from the
// workspace and hot-reloads them on change, the same fsnotify-debounce
// pattern the template registry uses for agent templates.
type SoulLoader struct {
	workspacePath string
	logger        Logger

	mu    sync.RWMutex
	cache map[Role]string

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// Logger is the minimal logging capability SoulLoader needs; any
// printf-style logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

// NewSoulLoader constructs a loader rooted at workspacePath/souls. It does
// an initial synchronous load of every role's file (if present) before
// returning; call Watch to start hot-reloading.
func NewSoulLoader(workspacePath string, logger Logger) *SoulLoader {
	s := &SoulLoader{
		workspacePath: workspacePath,
		logger:        logger,
		cache:         make(map[Role]string),
	}
	for _, role := range AllRoles() {
		if text, ok := s.readFile(role); ok {
			s.cache[role] = text
		}
	}
	return s
}

func (s *SoulLoader) soulDir() string {
	return filepath.Join(s.workspacePath, "souls")
}

func (s *SoulLoader) pathFor(role Role, agent *BoardAgent) string {
	if agent != nil && agent.SoulFile != "" {
		if filepath.IsAbs(agent.SoulFile) {
			return agent.SoulFile
		}
		return filepath.Join(s.workspacePath, agent.SoulFile)
	}
	return filepath.Join(s.soulDir(), string(role)+".md")
}

func (s *SoulLoader) readFile(role Role) (string, bool) {
	data, err := os.ReadFile(s.pathFor(role, nil))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Load returns the cached soul text for role, loading it from disk on
// first use. ok is false when no soul file exists and the caller should
// fall back to DefaultPersonality.
func (s *SoulLoader) Load(role Role, agent *BoardAgent) (string, bool) {
	path := s.pathFor(role, agent)

	s.mu.RLock()
	text, cached := s.cache[role]
	s.mu.RUnlock()
	if cached {
		return text, true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	s.cache[role] = string(data)
	s.mu.Unlock()
	return string(data), true
}

// Watch starts an fsnotify watch over the souls directory, invalidating a
// role's cache entry on create/write/remove/rename so the next Load call
// rereads it from disk.
func (s *SoulLoader) Watch(ctx context.Context, debounce time.Duration) error {
	if err := os.MkdirAll(s.soulDir(), 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.soulDir()); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	s.watchCancel = cancel
	s.watchWg.Add(1)
	go s.watchLoop(watchCtx, debounce)
	return nil
}

// Close stops the watch loop started by Watch.
func (s *SoulLoader) Close() error {
	if s.watchCancel != nil {
		s.watchCancel()
	}
	s.watchWg.Wait()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *SoulLoader) watchLoop(ctx context.Context, debounce time.Duration) {
	defer s.watchWg.Done()
	pending := make(map[Role]struct{})
	var timer *time.Timer
	flush := func() {
		s.mu.Lock()
		for role := range pending {
			delete(s.cache, role)
		}
		s.mu.Unlock()
		pending = make(map[Role]struct{})
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			role := roleFromSoulPath(event.Name)
			if role == "" {
				continue
			}
			pending[role] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, flush)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if s.logger != nil {
				s.logger.Printf("board: soul watcher error: %v", err)
			}
		}
	}
}

func roleFromSoulPath(path string) Role {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	role := Role(name)
	if IsValidRole(role) {
		return role
	}
	return ""
}
