package domain

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixedstack.dev/pkg/mixedstack/internal/adapter"
	m "mixedstack.dev/pkg/mixedstack/internal/model"
)

const testPID = 42

func newTestResolver(fs adapter.MapFSAdapter, opts ...Option) Resolver {
	return NewResolver(NewScanner(fs, testDir), NewParser(fs), opts...)
}

func query(addr uint64) m.Query {
	return m.Query{PID: testPID, Address: addr}
}

func domainPtr(id m.DomainID) *m.DomainID {
	return &id
}

func TestResolver_EndToEnd(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n3000;4000;Baz::Qux;baz.cs\n")

	r := newTestResolver(fs)
	r.Enable(testPID)

	name, ok := r.Resolve(context.Background(), query(0x1500))
	require.True(t, ok)
	assert.Equal(t, "Foo::Bar", name)

	_, ok = r.Resolve(context.Background(), query(0x2500))
	assert.False(t, ok)

	name, ok = r.Resolve(context.Background(), query(0x3000))
	require.True(t, ok)
	assert.Equal(t, "Baz::Qux", name)

	assert.Equal(t, 0, fs.openHandles())
	assert.Len(t, fs.openedPaths(), 1, "unchanged files are not re-read")
}

func TestResolver_LegacyMarkerFallback(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n---A00;B00;Legacy::Fn\n1000;2000;Foo::Bar;foo.cs\n")

	r := newTestResolver(fs)
	r.Enable(testPID)

	name, ok := r.Resolve(context.Background(), query(0xA50))
	require.True(t, ok)
	assert.Equal(t, "Legacy::Fn", name)

	snap, ok := r.Snapshot(testPID)
	require.True(t, ok)
	assert.Equal(t, []m.Range{{Start: 0xA00, End: 0xB00, Name: "Legacy::Fn"}}, snap.LegacyRanges)
	assert.NotContains(t, snap.DomainRanges[0], m.Range{Start: 0xA00, End: 0xB00, Name: "Legacy::Fn"})
}

func TestResolver_DisabledUntilJITHostLoads(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n")

	r := newTestResolver(fs)

	_, ok := r.Resolve(context.Background(), query(0x1500))
	assert.False(t, ok)
	assert.Empty(t, fs.openedPaths(), "no work while disabled")

	r.ModuleLoaded(testPID, `C:\Unity\MonoBleedingEdge\EmbedRuntime\mono-2.0-bdwgc.dll`, true)
	assert.False(t, r.Enabled(testPID), "recorded modules do not enable")

	r.ModuleLoaded(testPID, "kernel32.dll", false)
	assert.False(t, r.Enabled(testPID))

	r.ModuleLoaded(testPID, `C:\Unity\MonoBleedingEdge\EmbedRuntime\mono-2.0-bdwgc.dll`, false)
	assert.True(t, r.Enabled(testPID))
	assert.False(t, r.Enabled(7), "other processes stay disabled")

	name, ok := r.Resolve(context.Background(), query(0x1500))
	require.True(t, ok)
	assert.Equal(t, "Foo::Bar", name)
}

func TestResolver_CustomJITHost(t *testing.T) {
	r := newTestResolver(newMemFS(), WithJITHost("coreclr"))

	r.ModuleLoaded(testPID, "mono-2.0.dll", false)
	assert.False(t, r.Enabled(testPID))

	r.ModuleLoaded(testPID, "libcoreclr.so", false)
	assert.True(t, r.Enabled(testPID))
}

func TestResolver_OnlyNewestSequenceIsParsed(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_3.txt"), "pmip:2.0\n1000;2000;Old::Fn;old.cs\n")
	fs.put(mapPath("pmip_42_5.txt"), "pmip:2.0\n1000;2000;New::Fn;new.cs\n")

	r := newTestResolver(fs)
	r.Enable(testPID)

	name, ok := r.Resolve(context.Background(), query(0x1000))
	require.True(t, ok)
	assert.Equal(t, "New::Fn", name)
	assert.Equal(t, []m.Path{m.Path(mapPath("pmip_42_5.txt"))}, fs.openedPaths())

	fs.put(mapPath("pmip_42_4.txt"), "pmip:2.0\n1000;2000;Stale::Fn;stale.cs\n")

	name, ok = r.Resolve(context.Background(), query(0x1000))
	require.True(t, ok)
	assert.Equal(t, "New::Fn", name)
	assert.Len(t, fs.openedPaths(), 1, "a lower sequence triggers no rebuild")

	fs.put(mapPath("pmip_42_6.txt"), "pmip:2.0\n1000;2000;Newer::Fn;newer.cs\n")

	name, ok = r.Resolve(context.Background(), query(0x1000))
	require.True(t, ok)
	assert.Equal(t, "Newer::Fn", name)
}

func TestResolver_DomainLayout(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Root::Fn;root.cs\nA00;B00;RootLegacy::Fn\n")
	fs.put(mapPath("pmip_42_1_1.txt"), "pmip:2.0\n5000;6000;One::Fn;one.cs\n---C00;D00;OneLegacy::Fn;x.cs\n")
	fs.put(mapPath("pmip_42_2_2.txt"), "pmip:2.0\n5000;6000;Two::Fn;two.cs\n")

	r := newTestResolver(fs)
	r.Enable(testPID)
	ctx := context.Background()

	name, ok := r.Resolve(ctx, query(0x1800))
	require.True(t, ok)
	assert.Equal(t, "Root::Fn", name)

	name, ok = r.Resolve(ctx, query(0x5500))
	require.True(t, ok)
	assert.Equal(t, "One::Fn", name, "without a hint domains are searched in id order")

	name, ok = r.Resolve(ctx, m.Query{PID: testPID, Address: 0x5500, Domain: domainPtr(2)})
	require.True(t, ok)
	assert.Equal(t, "Two::Fn", name, "the hinted domain wins")

	name, ok = r.Resolve(ctx, m.Query{PID: testPID, Address: 0x1800, Domain: domainPtr(2)})
	require.True(t, ok)
	assert.Equal(t, "Root::Fn", name, "a hint miss falls back to the other domains")

	name, ok = r.Resolve(ctx, query(0xA10))
	require.True(t, ok)
	assert.Equal(t, "RootLegacy::Fn", name)

	name, ok = r.Resolve(ctx, query(0xC10))
	require.True(t, ok)
	assert.Equal(t, "OneLegacy::Fn", name)

	snap, ok := r.Snapshot(testPID)
	require.True(t, ok)
	assert.Equal(t, LayoutDomain.String(), snap.Layout)
	assert.Len(t, snap.Domains, 3)
	assert.Len(t, snap.LegacyRanges, 2)
}

func TestResolver_RebuildKeepsOtherDomainsLegacyRanges(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\nA00;B00;RootLegacy::Fn\n")
	fs.put(mapPath("pmip_42_1_1.txt"), "pmip:2.0\n5000;6000;One::Fn;one.cs\n")

	r := newTestResolver(fs)
	r.Enable(testPID)
	ctx := context.Background()

	require.NoError(t, r.Refresh(ctx, testPID))

	fs.put(mapPath("pmip_42_2_1.txt"), "pmip:2.0\n7000;8000;OneV2::Fn;one.cs\n")

	name, ok := r.Resolve(ctx, query(0xA10))
	require.True(t, ok)
	assert.Equal(t, "RootLegacy::Fn", name)

	name, ok = r.Resolve(ctx, query(0x7100))
	require.True(t, ok)
	assert.Equal(t, "OneV2::Fn", name)

	_, ok = r.Resolve(ctx, query(0x5500))
	assert.False(t, ok, "the superseded file of domain 1 no longer contributes")

	assert.Len(t, fs.openedPaths(), 3, "only the changed domain is re-read")
}

func TestResolver_FlatLayout(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Root::Fn;root.cs\n")
	fs.put(mapPath("pmip_42_1_1.txt"), "pmip:2.0\n5000;6000;One::Fn;one.cs\nA00;B00;Legacy::Fn\n")

	r := newTestResolver(fs, WithLayout(LayoutFlat))
	r.Enable(testPID)
	ctx := context.Background()

	name, ok := r.Resolve(ctx, m.Query{PID: testPID, Address: 0x5100, Domain: domainPtr(0)})
	require.True(t, ok)
	assert.Equal(t, "One::Fn", name, "flat layout ignores domain hints")

	name, ok = r.Resolve(ctx, query(0x1100))
	require.True(t, ok)
	assert.Equal(t, "Root::Fn", name)

	name, ok = r.Resolve(ctx, query(0xA00))
	require.True(t, ok)
	assert.Equal(t, "Legacy::Fn", name)
}

func TestResolver_FatalErrorsDisablePermanently(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"unsupported version", "pmip:2.1\n1000;2000;Foo::Bar;foo.cs\n"},
		{"bad header", "pmip\n1000;2000;Foo::Bar;foo.cs\n"},
		{"malformed hex", "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n12G4;2000;Name\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newMemFS()
			fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n")

			var logs bytes.Buffer
			r := newTestResolver(fs, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
			r.Enable(testPID)

			name, ok := r.Resolve(context.Background(), query(0x1500))
			require.True(t, ok)
			assert.Equal(t, "Foo::Bar", name)

			fs.put(mapPath("pmip_42_2.txt"), tt.contents)

			_, ok = r.Resolve(context.Background(), query(0x1500))
			assert.False(t, ok)
			assert.False(t, r.Enabled(testPID))
			assert.Contains(t, logs.String(), "pmip_42_2.txt")

			snap, ok := r.Snapshot(testPID)
			require.True(t, ok)
			assert.Empty(t, snap.DomainRanges, "prior indexes are discarded")
			assert.Empty(t, snap.LegacyRanges)

			r.Enable(testPID)
			r.ModuleLoaded(testPID, "mono-2.0-bdwgc.dll", false)
			assert.False(t, r.Enabled(testPID), "never re-enabled")

			_, ok = r.Resolve(context.Background(), query(0x1500))
			assert.False(t, ok)
			assert.ErrorIs(t, r.Refresh(context.Background(), testPID), ErrResolutionDisabled)
			assert.Equal(t, 0, fs.openHandles())
		})
	}
}

func TestResolver_RetryPolicy(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:9.0\n")

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	r := newTestResolver(fs, WithFailurePolicy(PolicyRetry, time.Minute), withClock(clock))
	r.Enable(testPID)

	_, ok := r.Resolve(context.Background(), query(0x1500))
	assert.False(t, ok)
	assert.False(t, r.Enabled(testPID))

	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n")

	now = now.Add(30 * time.Second)
	_, ok = r.Resolve(context.Background(), query(0x1500))
	assert.False(t, ok, "still backing off")

	now = now.Add(31 * time.Second)
	name, ok := r.Resolve(context.Background(), query(0x1500))
	require.True(t, ok, "the same file is re-read after the backoff")
	assert.Equal(t, "Foo::Bar", name)
}

func TestResolver_RetryBackoffIgnoresModuleLoads(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:9.0\n")

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	r := newTestResolver(fs, WithFailurePolicy(PolicyRetry, time.Hour), withClock(clock))
	r.Enable(testPID)

	_, ok := r.Resolve(context.Background(), query(0x1500))
	require.False(t, ok)

	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n")

	now = now.Add(time.Second)
	r.ModuleLoaded(testPID, "mono-2.0-bdwgc.dll", false)
	r.Enable(testPID)

	assert.False(t, r.Enabled(testPID), "module load must not cut the backoff short")

	_, ok = r.Resolve(context.Background(), query(0x1500))
	assert.False(t, ok)

	now = now.Add(time.Hour)
	name, ok := r.Resolve(context.Background(), query(0x1500))
	require.True(t, ok)
	assert.Equal(t, "Foo::Bar", name)
}

func TestResolver_LoadCompleteForcesReread(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n")

	r := newTestResolver(fs)
	r.Enable(testPID)

	_, ok := r.Resolve(context.Background(), query(0x1500))
	require.True(t, ok)

	r.LoadComplete(testPID)
	assert.True(t, r.Enabled(testPID))

	_, ok = r.Resolve(context.Background(), query(0x1500))
	require.True(t, ok)
	assert.Len(t, fs.openedPaths(), 2)
}

func TestResolver_CloseDropsSession(t *testing.T) {
	r := newTestResolver(newMemFS())
	r.Enable(testPID)
	r.Enable(7)

	r.Close(testPID)
	assert.False(t, r.Enabled(testPID))
	assert.True(t, r.Enabled(7))

	_, ok := r.Snapshot(testPID)
	assert.False(t, ok)

	r.CloseAll()
	assert.False(t, r.Enabled(7))
}

func TestResolver_ScanDoesNotCommit(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n")

	r := newTestResolver(fs)

	result, err := r.Scan(context.Background(), testPID)
	require.NoError(t, err)
	assert.Equal(t, []m.DomainID{0}, result.Changed)

	result, err = r.Scan(context.Background(), testPID)
	require.NoError(t, err)
	assert.Equal(t, []m.DomainID{0}, result.Changed)
	assert.Empty(t, fs.openedPaths())
}

type panickingParser struct{}

func (panickingParser) Parse(context.Context, m.Path) (ParseResult, error) {
	panic("boom")
}

func TestResolver_PanicNeverReachesCaller(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n")

	r := NewResolver(NewScanner(fs, testDir), panickingParser{}, WithParallelism(1))
	r.Enable(testPID)

	assert.NotPanics(t, func() {
		_, ok := r.Resolve(context.Background(), query(0x1500))
		assert.False(t, ok)
	})
	assert.False(t, r.Enabled(testPID))
}

func TestResolver_CancelledRefreshDoesNotDisable(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n")

	r := newTestResolver(fs)
	r.Enable(testPID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := r.Resolve(ctx, query(0x1500))
	assert.False(t, ok)
	assert.True(t, r.Enabled(testPID))

	name, ok := r.Resolve(context.Background(), query(0x1500))
	require.True(t, ok)
	assert.Equal(t, "Foo::Bar", name)
}

func TestResolver_ConcurrentQueries(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n")
	fs.put(mapPath("pmip_42_1_1.txt"), "pmip:2.0\n3000;4000;Baz::Qux;baz.cs\n")

	r := newTestResolver(fs)
	r.Enable(testPID)

	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			addr := uint64(0x1500)
			want := "Foo::Bar"

			if i%2 == 1 {
				addr, want = 0x3500, "Baz::Qux"
			}

			name, ok := r.Resolve(context.Background(), query(addr))
			assert.True(t, ok)
			assert.Equal(t, want, name)
		}(i)
	}

	wg.Wait()
	assert.Len(t, fs.openedPaths(), 2, "a single rebuild serves every query")
}

func TestResolver_Metrics(t *testing.T) {
	fs := newMemFS()
	fs.put(mapPath("pmip_42_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\nA00;B00;Old::Fn\n")

	r := newTestResolver(fs)
	r.Enable(testPID)

	domainBefore := testutil.ToFloat64(lookupsTotal.WithLabelValues(outcomeDomain))
	legacyBefore := testutil.ToFloat64(lookupsTotal.WithLabelValues(outcomeLegacy))
	missBefore := testutil.ToFloat64(lookupsTotal.WithLabelValues(outcomeMiss))
	rebuildsBefore := testutil.ToFloat64(rebuildsTotal)

	r.Resolve(context.Background(), query(0x1500))
	r.Resolve(context.Background(), query(0xA00))
	r.Resolve(context.Background(), query(0x9999))

	assert.InDelta(t, 1, testutil.ToFloat64(lookupsTotal.WithLabelValues(outcomeDomain))-domainBefore, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(lookupsTotal.WithLabelValues(outcomeLegacy))-legacyBefore, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(lookupsTotal.WithLabelValues(outcomeMiss))-missBefore, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rebuildsTotal)-rebuildsBefore, 0)
}

func TestResolver_IndexedRangesFollowSession(t *testing.T) {
	const pid = 4301

	fs := newMemFS()
	fs.put(mapPath("pmip_4301_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\nA00;B00;Old::Fn\n")

	r := newTestResolver(fs)
	r.Enable(pid)

	indexed := func() []string {
		stats, err := Stats()
		require.NoError(t, err)

		return statLabels(stats, "mixedstack_indexed_ranges")
	}

	_, ok := r.Resolve(context.Background(), m.Query{PID: pid, Address: 0x1500})
	require.True(t, ok)
	assert.InDelta(t, 1, testutil.ToFloat64(indexedRanges.WithLabelValues("4301", "current")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(indexedRanges.WithLabelValues("4301", "legacy")), 0)

	r.LoadComplete(pid)
	assert.NotContains(t, indexed(), "kind=current,pid=4301", "gauge dropped with the indexes")

	_, ok = r.Resolve(context.Background(), m.Query{PID: pid, Address: 0x1500})
	require.True(t, ok)
	assert.Contains(t, indexed(), "kind=legacy,pid=4301")

	fs.put(mapPath("pmip_4301_2.txt"), "pmip:2.0\n12G4;2000;Broken\n")
	_, ok = r.Resolve(context.Background(), m.Query{PID: pid, Address: 0x1500})
	require.False(t, ok)
	assert.NotContains(t, indexed(), "kind=current,pid=4301", "gauge dropped after a fatal failure")
	assert.NotContains(t, indexed(), "kind=legacy,pid=4301")
}

func TestResolver_CloseDropsIndexedRanges(t *testing.T) {
	const pid = 4302

	fs := newMemFS()
	fs.put(mapPath("pmip_4302_1.txt"), "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n")

	r := newTestResolver(fs)
	r.Enable(pid)

	_, ok := r.Resolve(context.Background(), m.Query{PID: pid, Address: 0x1500})
	require.True(t, ok)

	stats, err := Stats()
	require.NoError(t, err)
	assert.Contains(t, statLabels(stats, "mixedstack_indexed_ranges"), "kind=current,pid=4302")

	r.CloseAll()

	stats, err = Stats()
	require.NoError(t, err)
	assert.NotContains(t, statLabels(stats, "mixedstack_indexed_ranges"), "kind=current,pid=4302")
}

func statLabels(stats []m.Stat, name string) []string {
	var labels []string

	for _, stat := range stats {
		if stat.Name == name {
			labels = append(labels, stat.Labels)
		}
	}

	return labels
}

func TestResolver_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	writeMapFile(t, dir, "pmip_42_1.txt", "pmip:2.0\n1000;2000;Foo::Bar;foo.cs\n")

	fs := adapter.NewLocalMapFSAdapter()
	r := NewResolver(NewScanner(fs, m.Path(dir)), NewParser(fs))
	r.Enable(testPID)

	name, ok := r.Resolve(context.Background(), query(0x1500))
	require.True(t, ok)
	assert.Equal(t, "Foo::Bar", name)
}

func TestStats(t *testing.T) {
	lookupsTotal.WithLabelValues(outcomeMiss).Add(0)

	stats, err := Stats()
	require.NoError(t, err)

	var found bool

	for _, stat := range stats {
		assert.Contains(t, stat.Name, "mixedstack_")

		if stat.Name == "mixedstack_lookups_total" && stat.Labels == "outcome=miss" {
			found = true
		}
	}

	assert.True(t, found)
}
