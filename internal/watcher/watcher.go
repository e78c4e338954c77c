// Package watcher detects new and changed document scripts.
//
// Two sources are available. EventSource subscribes to filesystem
// notifications through fsnotify. PollSource rescans the tree on a fixed
// interval and compares content fingerprints, for filesystems where
// notifications are unreliable. Neither source reports deletions.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/conneroisu/quicktex/internal/logging"
	"github.com/conneroisu/quicktex/internal/script"
	"github.com/fsnotify/fsnotify"
)

// Kind represents the reason a script is reported.
type Kind int

const (
	KindCreated Kind = iota
	KindModified
)

// String returns the string representation of the Kind
func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	default:
		return "unknown"
	}
}

// Change is a single notification that a script needs a rebuild.
type Change struct {
	Path string
	Kind Kind
}

// Source produces changes until ctx is cancelled. Run blocks; every change
// is handed to out one at a time, so a slow consumer holds the source back
// rather than letting notifications pile up.
type Source interface {
	Run(ctx context.Context, out chan<- Change) error
}

// FileFilter determines if a file should be reported.
type FileFilter func(path string) bool

// ExtensionFilter accepts scripts ending in ext.
func ExtensionFilter(ext string) FileFilter {
	return func(path string) bool {
		return script.HasExtension(path, ext)
	}
}

func accept(filters []FileFilter, path string) bool {
	for _, filter := range filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

// EventSource reports scripts as the operating system announces them.
type EventSource struct {
	root    string
	filters []FileFilter
	watcher *fsnotify.Watcher
	logger  logging.Logger
}

// NewEventSource subscribes to every directory under root. Only create and
// write events for paths accepted by all filters become changes.
func NewEventSource(root string, logger logging.Logger, filters ...FileFilter) (*EventSource, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	es := &EventSource{
		root:    absRoot,
		filters: filters,
		watcher: w,
		logger:  logger.WithComponent("watcher"),
	}

	// Scripts present at startup are not changes.
	if _, err := es.addRecursive(absRoot); err != nil {
		w.Close()
		return nil, err
	}

	return es, nil
}

// addRecursive adds a directory and all subdirectories to the watch set and
// returns the accepted scripts found on the way.
func (es *EventSource) addRecursive(root string) ([]string, error) {
	var scripts []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			es.logger.Warn(context.Background(), err, "Skipping unreadable path", "path", path)
			return nil
		}

		if d.IsDir() {
			if err := es.watcher.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
			return nil
		}

		if d.Type().IsRegular() && accept(es.filters, path) {
			scripts = append(scripts, path)
		}
		return nil
	})
	return scripts, err
}

// WatchList returns the directories currently subscribed.
func (es *EventSource) WatchList() []string {
	return es.watcher.WatchList()
}

// Run forwards matching events to out until ctx is cancelled, then closes
// the underlying watcher.
func (es *EventSource) Run(ctx context.Context, out chan<- Change) error {
	defer es.watcher.Close()

	es.logger.Debug(ctx, "Subscribed to source tree", "root", es.root, "directories", len(es.watcher.WatchList()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-es.watcher.Events:
			if !ok {
				return nil
			}
			for _, change := range es.translate(ctx, event) {
				select {
				case out <- change:
				case <-ctx.Done():
					return nil
				}
			}
		case err, ok := <-es.watcher.Errors:
			if !ok {
				return nil
			}
			// Log error but continue watching
			es.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

// Close releases the subscription without running.
func (es *EventSource) Close() error {
	return es.watcher.Close()
}

// translate maps one fsnotify event to changes. A new directory is
// subscribed and every script already inside it is reported as created.
func (es *EventSource) translate(ctx context.Context, event fsnotify.Event) []Change {
	var kind Kind
	switch {
	case event.Has(fsnotify.Create):
		kind = KindCreated
	case event.Has(fsnotify.Write):
		kind = KindModified
	default:
		return nil
	}

	if kind == KindCreated {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			scripts, err := es.addRecursive(event.Name)
			if err != nil {
				es.logger.Warn(ctx, err, "Failed to watch new directory", "path", event.Name)
			}
			changes := make([]Change, 0, len(scripts))
			for _, path := range scripts {
				changes = append(changes, Change{Path: path, Kind: KindCreated})
			}
			return changes
		}
	}

	if !accept(es.filters, event.Name) {
		return nil
	}

	return []Change{{Path: event.Name, Kind: kind}}
}
