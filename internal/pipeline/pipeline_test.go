package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
	"github.com/couchcryptid/climate-region-etl/internal/pipeline"
)

// --- mocks ---

// scriptedResponse is what the mock raster returns for one scale.
type scriptedResponse struct {
	sample domain.RawSample
	err    error
}

type mockRaster struct {
	mu         sync.Mutex
	byScale    map[int]scriptedResponse
	fallback   scriptedResponse
	queries    []int
	reconnects int
	reconnErr  error
}

func (m *mockRaster) QueryRegion(_ context.Context, _ domain.ImageQuery, _ domain.MultiPolygon, scale int) (domain.RawSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, scale)
	r, ok := m.byScale[scale]
	if !ok {
		r = m.fallback
	}
	return r.sample, r.err
}

func (m *mockRaster) Reconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	return m.reconnErr
}

type write struct {
	dataset string
	year    int
	records []domain.RegionMonthRecord
}

type mockSink struct {
	writes []write
	err    error
}

func (m *mockSink) WriteYear(_ context.Context, ds domain.DatasetSpec, year int, records []domain.RegionMonthRecord) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.writes = append(m.writes, write{dataset: ds.Name, year: year, records: append([]domain.RegionMonthRecord(nil), records...)})
	return ds.DirName(), nil
}

type mockJournal struct {
	extractions int
	empties     int
	flushes     int
}

func (m *mockJournal) RecordExtraction(_ context.Context, _, _ string, _ time.Time, _ []domain.Attempt, empty bool) error {
	m.extractions++
	if empty {
		m.empties++
	}
	return nil
}

func (m *mockJournal) RecordFlush(context.Context, string, int, int, string) error {
	m.flushes++
	return nil
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fixtures ---

var (
	jan2010 = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	region  = domain.Region{ID: "0401", Name: "NORTH COAST DRAINAGE"}
)

func prDataset(start, end time.Time) domain.DatasetSpec {
	return domain.DatasetSpec{Name: "IDAHO_EPSCOR/GRIDMET", Kind: domain.KindGridmet, Bands: []string{"pr"}, Start: start, End: end}
}

func prSample(values ...any) domain.RawSample {
	rows := [][]any{{"time", "pr"}}
	for _, v := range values {
		rows = append(rows, []any{float64(jan2010.UnixMilli()), v})
	}
	return domain.RawSample{Rows: rows}
}

func limitErr(scale int) error {
	return &domain.QueryError{Scale: scale, Retryable: true, Reason: "Too many pixels"}
}

func monthOf(t time.Time) domain.MonthInterval {
	return domain.MonthIntervals(t, t)[0]
}

// --- extractor ---

func TestExtractor_EscalatesUntilRecord(t *testing.T) {
	raster := &mockRaster{byScale: map[int]scriptedResponse{
		2000: {err: limitErr(2000)},
		5000: {sample: prSample(nil)},
		7500: {sample: prSample(5.0, 7.0)},
	}}
	ext := pipeline.NewExtractor(raster, []int{2000, 5000, 7500, 10000}, discardLogger(), newTestMetrics())

	got, err := ext.Extract(context.Background(), prDataset(jan2010, jan2010), region, monthOf(jan2010))
	require.NoError(t, err)

	assert.False(t, got.Empty)
	assert.Equal(t, 7500, got.Scale())
	assert.Equal(t, []int{2000, 5000, 7500}, raster.queries, "no attempt after the first record")
	assert.Equal(t, 6.0, got.Record.Values["pr"])

	outcomes := make([]domain.Outcome, 0, len(got.Attempts))
	for _, a := range got.Attempts {
		outcomes = append(outcomes, a.Outcome)
	}
	assert.Equal(t, []domain.Outcome{domain.OutcomeRetry, domain.OutcomeEmpty, domain.OutcomeSuccess}, outcomes)
}

func TestExtractor_AllScalesEmpty(t *testing.T) {
	raster := &mockRaster{fallback: scriptedResponse{err: limitErr(0)}}
	ext := pipeline.NewExtractor(raster, []int{2000, 5000}, discardLogger(), newTestMetrics())

	got, err := ext.Extract(context.Background(), prDataset(jan2010, jan2010), region, monthOf(jan2010))
	require.NoError(t, err)
	assert.True(t, got.Empty)
	assert.Equal(t, 0, got.Scale())
	assert.Len(t, got.Attempts, 2)
}

func TestExtractor_FatalErrorStops(t *testing.T) {
	boom := errors.New("collection not found")
	raster := &mockRaster{fallback: scriptedResponse{err: boom}}
	ext := pipeline.NewExtractor(raster, []int{2000, 5000}, discardLogger(), newTestMetrics())

	_, err := ext.Extract(context.Background(), prDataset(jan2010, jan2010), region, monthOf(jan2010))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{2000}, raster.queries)
}

// --- batch writer ---

func TestBatchWriter_FlushesEveryTwelveMonths(t *testing.T) {
	raster := &mockRaster{}
	sink := &mockSink{}
	ds := prDataset(jan2010, jan2010.AddDate(0, 11, 0))
	w := pipeline.NewBatchWriter(ds, sink, raster, nil, discardLogger(), newTestMetrics())

	months := domain.MonthIntervals(ds.Start, ds.End)
	require.Len(t, months, 12)

	for i, m := range months {
		w.Accept(domain.MissingRecord(ds, region, m))
		flushed, err := w.MaybeFlush(context.Background(), i, m)
		require.NoError(t, err)
		assert.Equal(t, i == 11, flushed, "month index %d", i)
	}

	require.Len(t, sink.writes, 1)
	assert.Equal(t, 2010, sink.writes[0].year)
	assert.Len(t, sink.writes[0].records, 12)
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, 1, raster.reconnects, "session reconnected after flush")
}

func TestBatchWriter_ResidualSameYearExtendsArtifact(t *testing.T) {
	sink := &mockSink{}
	ds := prDataset(time.Date(2010, 6, 1, 0, 0, 0, 0, time.UTC), time.Date(2011, 8, 1, 0, 0, 0, 0, time.UTC))
	w := pipeline.NewBatchWriter(ds, sink, &mockRaster{}, nil, discardLogger(), newTestMetrics())

	months := domain.MonthIntervals(ds.Start, ds.End)
	require.Len(t, months, 15)
	for i, m := range months {
		w.Accept(domain.MissingRecord(ds, region, m))
		_, err := w.MaybeFlush(context.Background(), i, m)
		require.NoError(t, err)
	}
	require.NoError(t, w.Finish(context.Background(), months[len(months)-1]))

	require.Len(t, sink.writes, 2)
	assert.Equal(t, 2011, sink.writes[0].year)
	assert.Equal(t, 2011, sink.writes[1].year)
	assert.Len(t, sink.writes[1].records, 15, "residual rewrite keeps the earlier batch")
}

func TestBatchWriter_FinishWithoutPendingIsNoop(t *testing.T) {
	sink := &mockSink{}
	w := pipeline.NewBatchWriter(prDataset(jan2010, jan2010), sink, &mockRaster{}, nil, discardLogger(), newTestMetrics())
	require.NoError(t, w.Finish(context.Background(), monthOf(jan2010)))
	assert.Empty(t, sink.writes)
}

func TestBatchWriter_WriteFailureKeepsRecords(t *testing.T) {
	sink := &mockSink{err: errors.New("disk full")}
	raster := &mockRaster{}
	w := pipeline.NewBatchWriter(prDataset(jan2010, jan2010), sink, raster, nil, discardLogger(), newTestMetrics())

	w.Accept(domain.MissingRecord(prDataset(jan2010, jan2010), region, monthOf(jan2010)))
	err := w.Flush(context.Background(), 2010)
	require.Error(t, err)
	assert.Equal(t, 1, w.Pending())
	assert.Equal(t, 0, raster.reconnects)
}

// --- pipeline ---

func TestPipeline_Run_WritesYearlyCheckpoints(t *testing.T) {
	raster := &mockRaster{fallback: scriptedResponse{sample: prSample(2.0, 4.0)}}
	sink := &mockSink{}
	journal := &mockJournal{}
	regions := []domain.Region{region, {ID: "0402", Name: "SACRAMENTO DRAINAGE"}}
	ds := prDataset(jan2010, time.Date(2011, 3, 31, 0, 0, 0, 0, time.UTC))

	p := pipeline.New(raster, sink, journal, []int{2000}, domain.EmptyDrop, discardLogger(), newTestMetrics())
	require.Error(t, p.CheckReadiness(context.Background()))

	require.NoError(t, p.Run(context.Background(), []domain.DatasetSpec{ds}, regions))

	require.Len(t, sink.writes, 2)
	assert.Equal(t, 2010, sink.writes[0].year)
	assert.Len(t, sink.writes[0].records, 24)
	assert.Equal(t, 2011, sink.writes[1].year)
	assert.Len(t, sink.writes[1].records, 6)

	assert.Equal(t, 30, journal.extractions)
	assert.Equal(t, 2, journal.flushes)
	assert.Equal(t, 3, raster.reconnects, "initial session plus one per flush")
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, pipeline.Progress{
		Running:     false,
		Dataset:     ds.Name,
		Month:       "03/2011",
		MonthsDone:  15,
		MonthsTotal: 15,
		Checkpoints: 2,
	}, p.Progress())

	first := sink.writes[0].records[0]
	want := domain.RegionMonthRecord{
		DatasetID:  ds.Name,
		RegionID:   "0401",
		RegionName: "NORTH COAST DRAINAGE",
		Month:      jan2010,
		Columns:    []string{"pr"},
		Values:     map[string]float64{"pr": 3.0},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first record mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_Run_EmptyPolicies(t *testing.T) {
	ds := prDataset(jan2010, time.Date(2010, 12, 1, 0, 0, 0, 0, time.UTC))
	emptyRaster := func() *mockRaster {
		return &mockRaster{fallback: scriptedResponse{sample: prSample(nil)}}
	}

	t.Run("drop", func(t *testing.T) {
		sink := &mockSink{}
		journal := &mockJournal{}
		p := pipeline.New(emptyRaster(), sink, journal, []int{2000, 5000}, domain.EmptyDrop, discardLogger(), newTestMetrics())
		require.NoError(t, p.Run(context.Background(), []domain.DatasetSpec{ds}, []domain.Region{region}))
		require.Len(t, sink.writes, 1)
		assert.Empty(t, sink.writes[0].records)
		assert.Equal(t, 12, journal.empties)
	})

	t.Run("missing", func(t *testing.T) {
		sink := &mockSink{}
		p := pipeline.New(emptyRaster(), sink, nil, []int{2000}, domain.EmptyMissing, discardLogger(), newTestMetrics())
		require.NoError(t, p.Run(context.Background(), []domain.DatasetSpec{ds}, []domain.Region{region}))
		require.Len(t, sink.writes, 1)
		require.Len(t, sink.writes[0].records, 12)
		_, ok := sink.writes[0].records[0].Value("pr")
		assert.False(t, ok)
		assert.Equal(t, time.Date(2010, 3, 1, 0, 0, 0, 0, time.UTC), sink.writes[0].records[2].Month)
	})

	t.Run("abort", func(t *testing.T) {
		sink := &mockSink{}
		p := pipeline.New(emptyRaster(), sink, nil, []int{2000}, domain.EmptyAbort, discardLogger(), newTestMetrics())
		err := p.Run(context.Background(), []domain.DatasetSpec{ds}, []domain.Region{region})
		require.ErrorIs(t, err, domain.ErrEmptyResult)
		assert.Empty(t, sink.writes)
	})
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	raster := &mockRaster{fallback: scriptedResponse{sample: prSample(1.0)}}
	sink := &mockSink{}
	p := pipeline.New(raster, sink, nil, []int{2000}, domain.EmptyDrop, discardLogger(), newTestMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Run(ctx, []domain.DatasetSpec{prDataset(jan2010, jan2010)}, []domain.Region{region})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, raster.queries)
	assert.Empty(t, sink.writes)
}

func TestPipeline_Run_ReconnectFailure(t *testing.T) {
	raster := &mockRaster{reconnErr: errors.New("token expired")}
	p := pipeline.New(raster, &mockSink{}, nil, []int{2000}, domain.EmptyDrop, discardLogger(), newTestMetrics())

	err := p.Run(context.Background(), []domain.DatasetSpec{prDataset(jan2010, jan2010)}, []domain.Region{region})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raster session")
}
