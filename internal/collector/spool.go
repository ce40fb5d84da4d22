package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trafficexporter/internal/export"
)

// SpoolSource replays capture files dropped into a directory. Files
// present at startup are replayed first. Each file is replayed once while
// it stays in the directory.
type SpoolSource struct {
	log    logrus.FieldLogger
	dir    string
	health *export.HealthMetrics

	seen map[string]struct{}
}

// NewSpoolSource creates a SpoolSource. health may be nil.
func NewSpoolSource(log logrus.FieldLogger, dir string, health *export.HealthMetrics) *SpoolSource {
	return &SpoolSource{
		log:    log.WithField("source", "spool"),
		dir:    dir,
		health: health,
		seen:   make(map[string]struct{}, 64),
	}
}

// Name returns the source identifier.
func (s *SpoolSource) Name() string {
	return "spool"
}

func isCaptureFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))

	return ext == ".pcap" || ext == ".pcapng"
}

// Run watches the spool directory until ctx is done.
func (s *SpoolSource) Run(ctx context.Context, handle FrameHandler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching spool dir %s: %w", s.dir, err)
	}

	if err := s.replayExisting(ctx, handle); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			s.prune()
			s.replay(ctx, event.Name, handle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			s.log.WithError(err).Warn("Error while watching spool dir")
		}
	}
}

func (s *SpoolSource) replayExisting(ctx context.Context, handle FrameHandler) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading spool dir %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	for _, name := range names {
		s.replay(ctx, filepath.Join(s.dir, name), handle)
	}

	return nil
}

// prune forgets replayed files that have since been removed, so a later
// file with the same name is replayed.
func (s *SpoolSource) prune() {
	for path := range s.seen {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			delete(s.seen, path)
		}
	}
}

func (s *SpoolSource) replay(ctx context.Context, path string, handle FrameHandler) {
	if !isCaptureFile(path) {
		return
	}

	if _, ok := s.seen[path]; ok {
		return
	}

	// A rename event is also emitted for the old name of a moved file.
	if _, err := os.Stat(path); err != nil {
		return
	}

	s.seen[path] = struct{}{}

	frames, err := ReplayFile(ctx, path, handle)
	if err != nil {
		s.log.WithError(err).WithField("file", path).Warn("Failed to replay spooled capture")

		return
	}

	if s.health != nil {
		s.health.CaptureFilesRead.Inc()
	}

	s.log.WithFields(logrus.Fields{
		"file":   path,
		"frames": frames,
	}).Info("Replayed spooled capture")
}
