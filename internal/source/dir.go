package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"panosphere/internal/fsutil"
	"panosphere/internal/motion"
)

// DirectorySource watches a directory the device dumps files into: image files
// become the current frame, "*.motion.json" sidecars become sensor samples.
// The newest image wins; AcquireFrame reads it on demand.
type DirectorySource struct {
	watcher   *fsnotify.Watcher
	log       *slog.Logger
	samples   chan motion.Sample
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	latestPath string
	latestAt   time.Time
	maxAge     time.Duration
}

// NewDirectorySource starts watching dir. maxAge bounds how old the newest
// frame may be before the source reports ErrNoFrame; zero disables the check.
func NewDirectorySource(dir string, maxAge time.Duration, logger *slog.Logger) (*DirectorySource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	s := &DirectorySource{
		watcher: watcher,
		log:     logger,
		samples: make(chan motion.Sample, 64),
		done:    make(chan struct{}),
		maxAge:  maxAge,
	}

	// Pick up anything already present before the watch started.
	if existing, err := fsutil.ListImages(dir); err == nil && len(existing) > 0 {
		s.latestPath = existing[len(existing)-1]
		s.latestAt = time.Now()
	}

	go s.processEvents()
	logger.Info("watching frame directory", "dir", dir)
	return s, nil
}

func (s *DirectorySource) processEvents() {
	// Sole sender on s.samples; closing it here keeps Close from racing an
	// in-flight sidecar send.
	defer close(s.samples)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			switch {
			case strings.HasSuffix(event.Name, ".motion.json"):
				s.readSample(event.Name)
			case fsutil.IsImageFile(event.Name):
				s.mu.Lock()
				s.latestPath = event.Name
				s.latestAt = time.Now()
				s.mu.Unlock()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("frame watcher error", "error", err)
		case <-s.done:
			return
		}
	}
}

func (s *DirectorySource) readSample(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var sample motion.Sample
	if err := json.Unmarshal(data, &sample); err != nil {
		s.log.Debug("skipping malformed motion sidecar", "path", filepath.Base(path), "error", err)
		return
	}
	if sample.At.IsZero() {
		sample.At = time.Now()
	}
	select {
	case s.samples <- sample:
	default: // drop when the consumer lags
	}
}

// AcquireFrame reads the newest image file in the watched directory.
func (s *DirectorySource) AcquireFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	path, at := s.latestPath, s.latestAt
	s.mu.Unlock()

	if path == "" {
		return nil, ErrNoFrame
	}
	if s.maxAge > 0 && time.Since(at) > s.maxAge {
		return nil, ErrNoFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrNoFrame
	}
	return data, nil
}

// Samples returns the motion sample stream.
func (s *DirectorySource) Samples() <-chan motion.Sample { return s.samples }

// Close stops the watcher. The sample stream closes once the event loop has
// drained its last event.
func (s *DirectorySource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}
