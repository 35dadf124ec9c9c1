package token

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type FileOptions struct {
	// Debounce collapses bursts of writes, such as editors saving via a
	// temp file and rename.
	Debounce time.Duration
	Logger   Logger
}

// FileProvider reads the token from a file and follows changes to it. The
// parent directory is watched so replacing the file by rename is seen.
type FileProvider struct {
	path     string
	debounce time.Duration
	logger   Logger
	changes  chan string
	recheck  chan struct{}

	mu      sync.Mutex
	current string
}

func NewFileProvider(path string, opts FileOptions) (*FileProvider, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("token file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve token file: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	p := &FileProvider{
		path:     abs,
		debounce: opts.Debounce,
		logger:   opts.Logger,
		changes:  make(chan string, 1),
		recheck:  make(chan struct{}, 1),
	}
	token, err := p.read()
	if err != nil {
		return nil, err
	}
	if token != "" {
		p.current = token
		p.changes <- token
	}
	return p, nil
}

func (p *FileProvider) Path() string { return p.path }

func (p *FileProvider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *FileProvider) Changes() <-chan string { return p.changes }

// Unauthorized re-reads the file, in case the token was rotated before the
// watcher saw it. A rejected token is otherwise kept until the file changes.
func (p *FileProvider) Unauthorized() {
	p.logf("token from %s was rejected; waiting for it to change", p.path)
	select {
	case p.recheck <- struct{}{}:
	default:
	}
}

// Run watches the token file until ctx is done.
func (p *FileProvider) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch token file: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(p.path), err)
	}

	timer := time.NewTimer(p.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				timer.Reset(p.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logf("token watcher: %v", err)
		case <-p.recheck:
			p.reload()
		case <-timer.C:
			p.reload()
		}
	}
}

func (p *FileProvider) reload() {
	token, err := p.read()
	if err != nil {
		p.logf("read token: %v", err)
		return
	}
	p.mu.Lock()
	if token == p.current {
		p.mu.Unlock()
		return
	}
	p.current = token
	p.mu.Unlock()
	offer(p.changes, token)
}

// read returns the trimmed file contents. A missing file is an empty token,
// not an error.
func (p *FileProvider) read() (string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read token file %s: %w", p.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (p *FileProvider) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}
