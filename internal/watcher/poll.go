package watcher

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/conneroisu/quicktex/internal/logging"
)

// DefaultPollInterval is the pause between two scans.
const DefaultPollInterval = time.Second

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Fingerprint identifies file content. Two files with the same fingerprint
// are treated as identical.
type Fingerprint struct {
	Sum  uint32
	Size int64
}

// String returns the fingerprint as "<crc>-<size>".
func (f Fingerprint) String() string {
	return fmt.Sprintf("%08x-%d", f.Sum, f.Size)
}

// FingerprintFile reads path and returns its content fingerprint.
func FingerprintFile(path string) (Fingerprint, error) {
	file, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer file.Close()

	h := crc32.New(castagnoli)
	n, err := io.Copy(h, file)
	if err != nil {
		return Fingerprint{}, err
	}

	return Fingerprint{Sum: h.Sum32(), Size: n}, nil
}

// FingerprintTable maps script paths to the fingerprint last reported.
// Entries are never removed, so a deleted file that reappears with the same
// content is not reported again.
type FingerprintTable struct {
	entries map[string]Fingerprint
	mu      sync.RWMutex
}

// NewFingerprintTable creates an empty table.
func NewFingerprintTable() *FingerprintTable {
	return &FingerprintTable{entries: make(map[string]Fingerprint)}
}

// Observe records fp for path and reports whether it is new or different
// from the stored fingerprint.
func (ft *FingerprintTable) Observe(path string, fp Fingerprint) (Kind, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	prev, seen := ft.entries[path]
	if seen && prev == fp {
		return 0, false
	}

	ft.entries[path] = fp
	if !seen {
		return KindCreated, true
	}
	return KindModified, true
}

// Get returns the stored fingerprint for path.
func (ft *FingerprintTable) Get(path string) (Fingerprint, bool) {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	fp, ok := ft.entries[path]
	return fp, ok
}

// Len returns the number of tracked scripts.
func (ft *FingerprintTable) Len() int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.entries)
}

// PollSource reports scripts whose content changed between scans.
type PollSource struct {
	root     string
	filters  []FileFilter
	interval time.Duration
	table    *FingerprintTable
	logger   logging.Logger
}

// NewPollSource creates a poll source over root. A non-positive interval
// falls back to DefaultPollInterval.
func NewPollSource(root string, interval time.Duration, logger logging.Logger, filters ...FileFilter) (*PollSource, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}

	return &PollSource{
		root:     absRoot,
		filters:  filters,
		interval: interval,
		table:    NewFingerprintTable(),
		logger:   logger.WithComponent("watcher"),
	}, nil
}

// Table exposes the fingerprints recorded so far.
func (ps *PollSource) Table() *FingerprintTable {
	return ps.table
}

// Scan walks the tree once and returns the scripts that are new or changed
// since the previous scan, in walk order.
func (ps *PollSource) Scan(ctx context.Context) ([]Change, error) {
	return scan(ctx, ps.root, ps.filters, ps.table, ps.logger)
}

// Run alternates scans and sleeps until ctx is cancelled. The first scan
// reports every existing script.
func (ps *PollSource) Run(ctx context.Context, out chan<- Change) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		changes, err := ps.Scan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ps.logger.Warn(ctx, err, "Scan failed", "root", ps.root)
		}

		for _, change := range changes {
			select {
			case out <- change:
			case <-ctx.Done():
				return nil
			}
		}

		timer.Reset(ps.interval)
	}
}

func scan(ctx context.Context, root string, filters []FileFilter, table *FingerprintTable, logger logging.Logger) ([]Change, error) {
	var changes []Change

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn(ctx, err, "Skipping unreadable path", "path", path)
			return nil
		}
		if d.IsDir() || !accept(filters, path) {
			return nil
		}

		fp, err := FingerprintFile(path)
		if err != nil {
			// Removed or unreadable between listing and reading.
			logger.Debug(ctx, "Could not fingerprint script", "path", path, "error", err)
			return nil
		}

		if kind, changed := table.Observe(path, fp); changed {
			changes = append(changes, Change{Path: path, Kind: kind})
		}
		return nil
	})

	return changes, err
}
