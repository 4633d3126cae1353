//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-region-etl/internal/adapter/kafka"
	"github.com/couchcryptid/climate-region-etl/internal/adapter/raster"
	"github.com/couchcryptid/climate-region-etl/internal/checkpoint"
	"github.com/couchcryptid/climate-region-etl/internal/config"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
	"github.com/couchcryptid/climate-region-etl/internal/pipeline"
	"github.com/couchcryptid/climate-region-etl/internal/reconcile"
)

const testTopic = "test-reconciled"

// rasterStub answers every sample request with two pixels for the requested
// bands, dated at the start of the requested month. Requests at scale 2000
// hit the pixel limit so every region-month escalates once.
func rasterStub(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Bands []string `json:"bands"`
			Start string   `json:"start"`
			Scale int      `json:"scale"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Scale == 2000 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"Too many pixels in the region."}}`))
			return
		}

		start, _ := domain.ParseDate(req.Start)
		header := []any{"time"}
		pixel := []any{float64(start.UnixMilli())}
		for _, b := range req.Bands {
			header = append(header, b)
			pixel = append(pixel, 290.0)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"rows": [][]any{header, pixel, pixel}})
	}))
}

func TestExtractReconcilePublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	srv := rasterStub(t)
	defer srv.Close()

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	root := t.TempDir()

	start := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC)
	datasets := []domain.DatasetSpec{
		{Name: "GRIDMET/DROUGHT", Bands: []string{"pdsi"}, Start: start, End: end},
		{Name: "IDAHO_EPSCOR/GRIDMET", Kind: domain.KindGridmet, Bands: []string{"tmmn", "tmmx", "rmin", "rmax"}, Start: start, End: end},
	}
	regions := []domain.Region{
		{ID: "0401", Name: "NORTH COAST DRAINAGE", Geometry: domain.MultiPolygon{{{{-124, 41}, {-123, 41}, {-123, 40}, {-124, 41}}}}},
	}

	client := raster.NewClient(srv.URL, "test-project", 10*time.Second, raster.StaticToken("token"), logger, metrics)
	store := checkpoint.NewStore(root, nil, logger)
	p := pipeline.New(client, store, nil, []int{2000, 5000}, domain.EmptyDrop, logger, metrics)
	require.NoError(t, p.Run(ctx, datasets, regions))

	res, err := reconcile.New(store, logger, metrics).Reconcile(ctx, datasets)
	require.NoError(t, err)
	require.NotNil(t, res.Historical)
	require.Len(t, res.Historical.Rows, 12)

	paths, err := reconcile.WriteOutputs(ctx, filepath.Join(root, "out"), res, nil)
	require.NoError(t, err)
	require.Len(t, paths, 1)

	pub := kafka.NewPublisher(&config.Config{KafkaBrokers: []string{broker}, KafkaTopic: testTopic}, logger)
	t.Cleanup(func() { _ = pub.Close() })
	require.NoError(t, pub.Publish(ctx, reconcile.OutputHistorical, res.Historical))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from topic")
	assert.Equal(t, "0401_2010_01", string(msg.Key))

	var payload struct {
		JoinKey string              `json:"join_key"`
		Time    string              `json:"time"`
		Values  map[string]*float64 `json:"values"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "2010-01-01", payload.Time)
	require.NotNil(t, payload.Values["tmean"])
	assert.InDelta(t, 16.85, *payload.Values["tmean"], 1e-9)
	require.NotNil(t, payload.Values["pdsi"])
	assert.Equal(t, 290.0, *payload.Values["pdsi"])

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, reconcile.OutputHistorical, headers["output"])
}
