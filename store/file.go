package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/workflow"
)

// FileStore keeps one definition per file (.yaml, .yml or .json) in a
// directory. With Watch enabled, edits made outside the process are
// picked up after a short debounce.
type FileStore struct {
	dir       string
	ext       string
	logger    *zap.Logger
	debounce  time.Duration
	onReload  func()
	mu        sync.RWMutex
	defs      map[string]*workflow.Definition
	paths     map[string]string
	closed    bool
	watcher   *fsnotify.Watcher
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	// Watch reloads the directory on file system events.
	Watch bool
	// Extension used for new files, ".yaml" by default.
	Extension string
	// Debounce delays reloads after a burst of events, 100ms by default.
	Debounce time.Duration
	// OnReload is called after every watch-triggered reload.
	OnReload func()
	Logger   *zap.Logger
}

// NewFileStore creates the directory if needed and loads every definition in it.
func NewFileStore(dir string, opts FileStoreOptions) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workflow directory: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ext := opts.Extension
	if ext == "" {
		ext = ".yaml"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	s := &FileStore{
		dir:      dir,
		ext:      ext,
		logger:   logger.With(zap.String("component", "file_store"), zap.String("dir", dir)),
		debounce: debounce,
		onReload: opts.OnReload,
	}
	if err := s.reload(); err != nil {
		return nil, err
	}

	if opts.Watch {
		if err := s.startWatch(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func isDefinitionFile(name string) bool {
	return workflow.IsYAMLFile(name) || strings.EqualFold(filepath.Ext(name), ".json")
}

// reload rebuilds the in-memory index from disk. Files that fail to parse
// are skipped with a warning.
func (s *FileStore) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read workflow directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	defs := make(map[string]*workflow.Definition, len(entries))
	paths := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		def, err := workflow.LoadFromFile(path)
		if err != nil {
			s.logger.Warn("skipping invalid workflow file", zap.String("file", path), zap.Error(err))
			continue
		}
		if def.UpdatedAt.IsZero() {
			if info, err := entry.Info(); err == nil {
				def.UpdatedAt = info.ModTime()
			}
		}
		if prev, dup := paths[def.ID]; dup {
			s.logger.Warn("duplicate workflow id, later file wins",
				zap.String("id", def.ID), zap.String("previous", prev), zap.String("file", path))
		}
		defs[def.ID] = def
		paths[def.ID] = path
	}

	s.mu.Lock()
	s.defs = defs
	s.paths = paths
	s.mu.Unlock()

	s.logger.Debug("workflow directory loaded", zap.Int("definitions", len(defs)))
	return nil
}

func (s *FileStore) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.watcher = watcher
	s.stopWatch = cancel
	s.watchDone = make(chan struct{})
	go s.watchLoop(ctx)
	return nil
}

func (s *FileStore) watchLoop(ctx context.Context) {
	defer close(s.watchDone)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(s.debounce, func() {
				if err := s.reload(); err != nil {
					s.logger.Error("workflow reload failed", zap.Error(err))
					return
				}
				s.logger.Info("workflow directory reloaded", zap.String("trigger", event.Name))
				if s.onReload != nil {
					s.onReload()
				}
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// GetWorkflowByID implements workflow.WorkflowLoader.
func (s *FileStore) GetWorkflowByID(_ context.Context, id string) (*workflow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	def, ok := s.defs[id]
	if !ok {
		return nil, notFound(id)
	}
	return cloneDefinition(def), nil
}

// List returns all definitions, most recently updated first.
func (s *FileStore) List(_ context.Context) ([]*workflow.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]*workflow.Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, cloneDefinition(def))
	}
	sortByUpdated(out)
	return out, nil
}

// Save writes the definition to its existing file, or to <id><ext> when new.
func (s *FileStore) Save(_ context.Context, def *workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	var existing *workflow.Definition
	if def != nil {
		existing = s.defs[def.ID]
	}
	if err := prepareSave(def, existing, time.Now()); err != nil {
		return err
	}
	if strings.ContainsAny(def.ID, `/\`) || def.ID == "." || def.ID == ".." {
		return fmt.Errorf("%w: id %q cannot be used as a file name", ErrInvalidInput, def.ID)
	}

	path, ok := s.paths[def.ID]
	if !ok {
		path = filepath.Join(s.dir, def.ID+s.ext)
	}
	if err := writeDefinition(path, def); err != nil {
		return err
	}
	s.defs[def.ID] = cloneDefinition(def)
	s.paths[def.ID] = path
	return nil
}

// writeDefinition writes to a temporary file and renames it into place.
func writeDefinition(path string, def *workflow.Definition) error {
	var (
		out string
		err error
	)
	if workflow.IsYAMLFile(path) {
		out, err = def.ToYAML()
	} else {
		out, err = def.ToJSON()
	}
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	return nil
}

// Delete removes the definition's file.
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	path, ok := s.paths[id]
	if !ok {
		return notFound(id)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove workflow file: %w", err)
	}
	delete(s.defs, id)
	delete(s.paths, id)
	return nil
}

// Ping checks that the directory is still readable.
func (s *FileStore) Ping(_ context.Context) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.dir)
	return err
}

// Close stops the watcher.
func (s *FileStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.watcher == nil {
		return nil
	}
	s.stopWatch()
	err := s.watcher.Close()
	<-s.watchDone
	return err
}
