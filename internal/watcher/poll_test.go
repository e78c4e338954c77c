package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conneroisu/quicktex/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintFile(t *testing.T) {
	dir := t.TempDir()
	a := testutils.CreateTestScript(t, dir, "a.kts", "same content")
	b := testutils.CreateTestScript(t, dir, "b.kts", "same content")
	c := testutils.CreateTestScript(t, dir, "c.kts", "other content")

	fpA, err := FingerprintFile(a)
	require.NoError(t, err)
	fpB, err := FingerprintFile(b)
	require.NoError(t, err)
	fpC, err := FingerprintFile(c)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
	assert.NotEqual(t, fpA, fpC)
	assert.Equal(t, int64(len("same content")), fpA.Size)

	_, err = FingerprintFile(filepath.Join(dir, "missing.kts"))
	assert.Error(t, err)
}

func TestFingerprintTableObserve(t *testing.T) {
	table := NewFingerprintTable()
	fp1 := Fingerprint{Sum: 1, Size: 10}
	fp2 := Fingerprint{Sum: 2, Size: 10}

	kind, changed := table.Observe("/a.kts", fp1)
	assert.True(t, changed)
	assert.Equal(t, KindCreated, kind)

	_, changed = table.Observe("/a.kts", fp1)
	assert.False(t, changed)

	kind, changed = table.Observe("/a.kts", fp2)
	assert.True(t, changed)
	assert.Equal(t, KindModified, kind)

	got, ok := table.Get("/a.kts")
	require.True(t, ok)
	assert.Equal(t, fp2, got)
	assert.Equal(t, 1, table.Len())
}

func paths(changes []Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Path)
	}
	return out
}

func TestPollSourceScan(t *testing.T) {
	src, _ := testutils.CreateTempProject(t)
	report := testutils.CreateTestScript(t, src, "report.kts", "v1")
	nested := testutils.CreateTestScript(t, src, "part/chapter.kts", "c1")
	testutils.CreateTestScript(t, src, "notes.txt", "ignored")

	ps, err := NewPollSource(src, 0, nil, ExtensionFilter(".kts"))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("first scan reports every script", func(t *testing.T) {
		changes, err := ps.Scan(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{nested, report}, paths(changes))
		for _, c := range changes {
			assert.Equal(t, KindCreated, c.Kind)
		}
	})

	t.Run("unchanged tree reports nothing", func(t *testing.T) {
		changes, err := ps.Scan(ctx)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("rewrite with identical content reports nothing", func(t *testing.T) {
		require.NoError(t, os.WriteFile(report, []byte("v1"), 0o644))
		later := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(report, later, later))

		changes, err := ps.Scan(ctx)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("changed content is reported once", func(t *testing.T) {
		require.NoError(t, os.WriteFile(report, []byte("v2"), 0o644))

		changes, err := ps.Scan(ctx)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, Change{Path: report, Kind: KindModified}, changes[0])

		changes, err = ps.Scan(ctx)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("deletion is not reported", func(t *testing.T) {
		require.NoError(t, os.Remove(nested))

		changes, err := ps.Scan(ctx)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("recreation with the same content is not reported", func(t *testing.T) {
		testutils.CreateTestScript(t, src, "part/chapter.kts", "c1")

		changes, err := ps.Scan(ctx)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("new script is reported", func(t *testing.T) {
		added := testutils.CreateTestScript(t, src, "appendix.kts", "a1")

		changes, err := ps.Scan(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Change{{Path: added, Kind: KindCreated}}, changes)
	})
}

func TestPollSourceScanMissingRoot(t *testing.T) {
	ps, err := NewPollSource(filepath.Join(t.TempDir(), "missing"), time.Second, nil)
	require.NoError(t, err)

	_, err = ps.Scan(context.Background())
	assert.Error(t, err)
}

func TestPollSourceRun(t *testing.T) {
	src, _ := testutils.CreateTempProject(t)
	report := testutils.CreateTestScript(t, src, "report.kts", "v1")

	ps, err := NewPollSource(src, 20*time.Millisecond, nil, ExtensionFilter(".kts"))
	require.NoError(t, err)
	out := startSource(t, ps)

	first := receive(t, out, 5*time.Second)
	assert.Equal(t, Change{Path: report, Kind: KindCreated}, first)

	require.NoError(t, os.WriteFile(report, []byte("v2"), 0o644))
	second := receive(t, out, 5*time.Second)
	assert.Equal(t, Change{Path: report, Kind: KindModified}, second)
}

func TestPollSourceDefaultInterval(t *testing.T) {
	ps, err := NewPollSource(t.TempDir(), -1, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, ps.interval)
}
