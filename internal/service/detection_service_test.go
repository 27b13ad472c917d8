package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/ingest"
	"lpr-service/internal/repository"
	"lpr-service/internal/thumbnail"
)

type fakeRepo struct {
	mu       sync.Mutex
	records  []*lpr.Record
	failFor  map[string]bool
	filter   repository.DetectionFilter
	since    time.Time
	cutoff   time.Time
	ctxAlive []bool
}

func (f *fakeRepo) InsertDetection(ctx context.Context, rec *lpr.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxAlive = append(f.ctxAlive, ctx.Err() == nil)
	if f.failFor[rec.PlateNumber] {
		return "", errors.New("connection reset")
	}
	f.records = append(f.records, rec)
	return fmt.Sprintf("rec-%d", len(f.records)), nil
}

func (f *fakeRepo) FindDetections(_ context.Context, filter repository.DetectionFilter) ([]repository.DetectionView, error) {
	f.filter = filter
	return nil, nil
}

func (f *fakeRepo) DetectionStats(_ context.Context, since time.Time) ([]repository.DailyStats, error) {
	f.since = since
	return []repository.DailyStats{{Day: "2025-10-01", TotalDetections: 3}}, nil
}

func (f *fakeRepo) ListCameraSummaries(context.Context) ([]repository.CameraSummary, error) {
	return nil, nil
}

func (f *fakeRepo) DeleteDetectionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 4, nil
}

func (f *fakeRepo) plates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.PlateNumber)
	}
	return out
}

type fakeThumbs struct {
	mu     sync.Mutex
	inputs []thumbnail.Input
	result thumbnail.Result
}

func (f *fakeThumbs) Process(_ context.Context, _ *lpr.Record, in thumbnail.Input) thumbnail.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	return f.result
}

var fixedNow = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo *fakeRepo, thumbs Thumbnailer, maxPlates int) *DetectionService {
	enricher := ingest.NewEnricher(nil, zerolog.Nop())
	s := NewDetectionService(repo, enricher, thumbs, maxPlates, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	return s
}

const alarmBody = `{"alarm":{"name":"LPR","triggers":[
	{"key":"license_plate_unknown","value":"h2f55u","device":"ABC123","eventId":"E1","timestamp":1758468216321}
],"thumbnail":"data:image/jpeg;base64,/9j/4AAQ"},"timestamp":1758468216400}`

func TestProcessWebhookAlarm(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestService(repo, nil, 0)

	result, err := s.ProcessWebhook(context.Background(), []byte(alarmBody))
	require.NoError(t, err)

	assert.Equal(t, "alarm_trigger", result.Format)
	assert.Equal(t, []string{"H2F55U"}, result.Plates)
	assert.Equal(t, []string{"rec-1"}, result.RecordIDs)

	require.Len(t, repo.records, 1)
	rec := repo.records[0]
	assert.Equal(t, "ABC123", rec.CameraID)
	assert.Equal(t, "E1", rec.EventID)
	assert.Equal(t, lpr.ProcessedByWebhook, rec.ProcessedBy)
	assert.Equal(t, time.Date(2025, 9, 21, 15, 23, 36, 321_000_000, time.UTC), rec.DetectionTimestamp)
	assert.JSONEq(t, alarmBody, rec.RawDetectionData)
	assert.Nil(t, rec.Thumbnail)
}

func TestProcessWebhookMalformed(t *testing.T) {
	s := newTestService(&fakeRepo{}, nil, 0)

	tests := map[string]string{
		"not json": `{"alarm":`,
		"empty":    ``,
		"array":    `[1,2]`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.ProcessWebhook(context.Background(), []byte(body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.ErrorIs(t, err, ingest.ErrMalformedPayload)
		})
	}
}

func TestProcessWebhookUnrecognizedIsNotAnError(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestService(repo, nil, 0)

	result, err := s.ProcessWebhook(context.Background(), []byte(`{"type":"motion","camera":{"id":"C1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "unrecognized", result.Format)
	assert.Empty(t, result.Plates)
	assert.Empty(t, result.RecordIDs)
	assert.Empty(t, repo.records)
}

func TestProcessWebhookBareVehicleWritesNothing(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestService(repo, nil, 0)

	result, err := s.ProcessWebhook(context.Background(), []byte(`{"alarm":{"triggers":[{"key":"vehicle","eventId":"E2"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "alarm_trigger", result.Format)
	assert.Empty(t, result.Plates)
	assert.Empty(t, repo.records)
}

func TestProcessPayloadSmartDetection(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestService(repo, nil, 0)

	p, err := ingest.ParsePayload([]byte(`{"type":"smart_detection","camera":{"id":"C1"},"event":{"id":"E9","start":1758468216000},
		"metadata":{"detected_thumbnails":[
			{"type":"vehicle","name":"7erf019","cropped_id":"crop-1","attributes":{"vehicle_type":{"val":"car","confidence":0.9}}},
			{"type":"person","name":"bob"}
		]}}`))
	require.NoError(t, err)

	result, err := s.ProcessPayload(context.Background(), p, ProcessOptions{ProcessedBy: lpr.ProcessedByBackfill})
	require.NoError(t, err)
	assert.Equal(t, []string{"7ERF019"}, result.Plates)

	require.Len(t, repo.records, 1)
	rec := repo.records[0]
	assert.Equal(t, "C1", rec.CameraID)
	assert.Equal(t, "E9", rec.EventID)
	assert.Equal(t, "crop-1", rec.CroppedID)
	require.NotNil(t, rec.VehicleType)
	assert.Equal(t, "car", rec.VehicleType.Value)
	assert.Equal(t, lpr.ProcessedByBackfill, rec.ProcessedBy)
}

func TestProcessPayloadCapsPlates(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestService(repo, nil, 2)

	result, err := s.ProcessWebhook(context.Background(), []byte(`{"alarm":{"triggers":[
		{"key":"license_plate_known","value":"aaa1"},
		{"key":"license_plate_known","value":"bbb2"},
		{"key":"license_plate_known","value":"ccc3"}
	]}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA1", "BBB2"}, result.Plates)
	assert.Equal(t, []string{"AAA1", "BBB2"}, repo.plates())
}

func TestProcessPayloadSinkFailureKeepsGoing(t *testing.T) {
	repo := &fakeRepo{failFor: map[string]bool{"AAA1": true}}
	s := newTestService(repo, nil, 0)

	result, err := s.ProcessWebhook(context.Background(), []byte(`{"alarm":{"triggers":[
		{"key":"license_plate_known","value":"aaa1"},
		{"key":"license_plate_known","value":"bbb2"}
	]}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkWrite)
	assert.Contains(t, err.Error(), "AAA1")

	require.NotNil(t, result)
	assert.Equal(t, []string{"AAA1", "BBB2"}, result.Plates)
	assert.Equal(t, []string{"rec-1"}, result.RecordIDs)
	assert.Equal(t, []string{"BBB2"}, repo.plates())
}

func TestProcessPayloadWriteSurvivesCancelledRequest(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestService(repo, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ProcessWebhook(ctx, []byte(alarmBody))
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, repo.ctxAlive)
}

func TestProcessPayloadDryRun(t *testing.T) {
	repo := &fakeRepo{}
	thumbs := &fakeThumbs{}
	s := newTestService(repo, thumbs, 0)

	p, err := ingest.ParsePayload([]byte(alarmBody))
	require.NoError(t, err)

	result, err := s.ProcessPayload(context.Background(), p, ProcessOptions{ProcessedBy: lpr.ProcessedByBackfill, DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, []string{"H2F55U"}, result.Plates)
	assert.Empty(t, result.RecordIDs)
	assert.Empty(t, repo.records)
	assert.Len(t, thumbs.inputs, 1)
}

func TestProcessPayloadThumbnails(t *testing.T) {
	repo := &fakeRepo{}
	full := &lpr.ThumbnailArtifact{PublicURL: "https://cdn.example/full.jpg", Filename: "full.jpg"}
	crop := &lpr.ThumbnailArtifact{PublicURL: "https://cdn.example/crop.jpg", Filename: "crop.jpg"}
	thumbs := &fakeThumbs{result: thumbnail.Result{Full: full, Crop: crop}}
	s := newTestService(repo, thumbs, 0)

	_, err := s.ProcessWebhook(context.Background(), []byte(`{"alarm":{"triggers":[
		{"key":"license_plate_known","value":"aaa1","device":"D1","eventId":"E1"},
		{"key":"license_plate_known","value":"bbb2","device":"D1","eventId":"E1"}
	],"thumbnail":"data:image/jpeg;base64,/9j/4AAQ"}}`))
	require.NoError(t, err)

	require.Len(t, thumbs.inputs, 2)
	require.NotNil(t, thumbs.inputs[0].Inline)
	assert.Same(t, thumbs.inputs[0].Inline, thumbs.inputs[1].Inline)
	assert.Equal(t, "D1", thumbs.inputs[0].CameraID)
	assert.Equal(t, "E1", thumbs.inputs[0].EventID)

	require.Len(t, repo.records, 2)
	assert.Same(t, full, repo.records[0].Thumbnail)
	assert.Same(t, crop, repo.records[0].CroppedThumbnail)
	assert.Equal(t, "https://cdn.example/full.jpg", repo.records[0].SnapshotURL)
}

func TestProcessPayloadSkipThumbnails(t *testing.T) {
	thumbs := &fakeThumbs{}
	s := newTestService(&fakeRepo{}, thumbs, 0)

	p, err := ingest.ParsePayload([]byte(alarmBody))
	require.NoError(t, err)

	_, err = s.ProcessPayload(context.Background(), p, ProcessOptions{SkipThumbnails: true})
	require.NoError(t, err)
	assert.Empty(t, thumbs.inputs)
}

func TestFindDetectionsFilter(t *testing.T) {
	tests := map[string]struct {
		query     DetectionQuery
		wantLimit int
		wantErr   bool
	}{
		"defaults":      {query: DetectionQuery{}, wantLimit: defaultQueryLimit},
		"clamped":       {query: DetectionQuery{Limit: 10_000}, wantLimit: maxQueryLimit},
		"rfc3339 range": {query: DetectionQuery{From: "2025-09-01T00:00:00Z", To: "2025-09-02T00:00:00Z", Limit: 5}, wantLimit: 5},
		"naive range":   {query: DetectionQuery{From: "2025-09-01 00:00:00"}, wantLimit: defaultQueryLimit},
		"bad from":      {query: DetectionQuery{From: "last tuesday"}, wantErr: true},
		"inverted":      {query: DetectionQuery{From: "2025-09-02T00:00:00Z", To: "2025-09-01T00:00:00Z"}, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			repo := &fakeRepo{}
			s := newTestService(repo, nil, 0)

			views, err := s.FindDetections(context.Background(), tc.query)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, views)
			assert.Equal(t, tc.wantLimit, repo.filter.Limit)
		})
	}
}

func TestFindDetectionsNormalizesPlate(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestService(repo, nil, 0)

	_, err := s.FindDetections(context.Background(), DetectionQuery{Plate: " h2f ", Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, "H2F", repo.filter.Plate)
	assert.Zero(t, repo.filter.Offset)
}

func TestStats(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestService(repo, nil, 0)

	stats, err := s.Stats(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, stats, 1)
	assert.Equal(t, fixedNow.AddDate(0, 0, -defaultStatsDays), repo.since)

	_, err = s.Stats(context.Background(), 1000)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCleanupOldDetections(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestService(repo, nil, 0)

	deleted, err := s.CleanupOldDetections(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.Equal(t, fixedNow.AddDate(0, 0, -30), repo.cutoff)

	_, err = s.CleanupOldDetections(context.Background(), 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
