package thumbnail

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/storage"
)

type fakeImages struct {
	mu        sync.Mutex
	images    map[string][]byte
	downloads []string
}

func (f *fakeImages) SnapshotURL(cameraID, eventID string) string {
	if eventID != "" {
		return "event/" + eventID
	}
	return "live/" + cameraID
}

func (f *fakeImages) CropURL(cameraID, croppedID string) string {
	return "crop/" + cameraID + "/" + croppedID
}

func (f *fakeImages) DetectionThumbnails(cameraID, eventID, croppedID string) []lpr.ThumbnailRef {
	refs := []lpr.ThumbnailRef{}
	if eventID != "" {
		refs = append(refs, lpr.ThumbnailRef{Kind: lpr.ThumbnailEventSnapshot, URL: f.SnapshotURL(cameraID, eventID)})
	}
	refs = append(refs, lpr.ThumbnailRef{Kind: lpr.ThumbnailLiveSnapshot, URL: f.SnapshotURL(cameraID, "")})
	if croppedID != "" {
		refs = append(refs, lpr.ThumbnailRef{Kind: lpr.ThumbnailPlateCrop, URL: f.CropURL(cameraID, croppedID)})
	}
	return refs
}

func (f *fakeImages) DownloadImage(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, url)
	data, ok := f.images[url]
	if !ok {
		return nil, errors.New("download failed: " + url)
	}
	return data, nil
}

type fakeStore struct {
	mu   sync.Mutex
	puts []storage.ObjectHints
	fail bool
}

func (f *fakeStore) Put(_ context.Context, data []byte, hints storage.ObjectHints) (*lpr.ThumbnailArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("upload failed")
	}
	f.puts = append(f.puts, hints)
	key := storage.ObjectKey(hints)
	return &lpr.ThumbnailArtifact{
		StoragePath: "mem://" + key,
		PublicURL:   "https://cdn/" + key,
		Filename:    key,
		SizeBytes:   int64(len(data)),
		ContentType: storage.DetectContentType(data),
	}, nil
}

var jpeg = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}

func testRecord() *lpr.Record {
	return &lpr.Record{
		PlateNumber:        "H2F55U",
		EventID:            "E1",
		CameraID:           "cam1",
		DetectionTimestamp: time.Date(2025, 9, 21, 15, 23, 36, 0, time.UTC),
	}
}

var allSources = Options{StoreEventSnapshots: true, StoreCroppedThumbnails: true}

func TestProcessInlineWinsFullSlot(t *testing.T) {
	images := &fakeImages{images: map[string][]byte{"event/E1": jpeg, "crop/cam1/C1": jpeg}}
	store := &fakeStore{}
	p := NewPipeline(images, store, allSources, zerolog.Nop())

	inline := NewInlineImage("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes")))
	res := p.Process(context.Background(), testRecord(), Input{Inline: inline, CameraID: "cam1", EventID: "E1", CroppedID: "C1"})

	require.NotNil(t, res.Full)
	require.NotNil(t, res.Crop)
	assert.Equal(t, "image/png", res.Full.ContentType)
	assert.Contains(t, res.Full.Filename, "_alarm_thumbnail.jpg")
	assert.Contains(t, res.Crop.Filename, "_license_plate_crop.jpg")
	assert.Equal(t, []string{"crop/cam1/C1"}, images.downloads)
}

func TestProcessEventSnapshotWhenInlineFails(t *testing.T) {
	images := &fakeImages{images: map[string][]byte{"event/E1": jpeg}}
	p := NewPipeline(images, &fakeStore{}, allSources, zerolog.Nop())

	res := p.Process(context.Background(), testRecord(), Input{
		Inline:   NewInlineImage("data:image/jpeg;base64,%%%not-base64"),
		CameraID: "cam1",
		EventID:  "E1",
	})

	require.NotNil(t, res.Full)
	assert.Contains(t, res.Full.Filename, "_event_snapshot.jpg")
	assert.Nil(t, res.Crop)
}

func TestProcessCropFailureKeepsFullScene(t *testing.T) {
	images := &fakeImages{images: map[string][]byte{"event/E1": jpeg}}
	p := NewPipeline(images, &fakeStore{}, allSources, zerolog.Nop())

	res := p.Process(context.Background(), testRecord(), Input{CameraID: "cam1", EventID: "E1", CroppedID: "C1"})

	require.NotNil(t, res.Full)
	assert.Nil(t, res.Crop)
	assert.ElementsMatch(t, []string{"event/E1", "crop/cam1/C1"}, images.downloads)
}

func TestProcessFallbackOnlyWhenNothingStored(t *testing.T) {
	images := &fakeImages{images: map[string][]byte{"live/cam1": jpeg}}
	p := NewPipeline(images, &fakeStore{}, allSources, zerolog.Nop())

	res := p.Process(context.Background(), testRecord(), Input{CameraID: "cam1", EventID: "E1", CroppedID: "C1"})

	require.NotNil(t, res.Full)
	assert.Contains(t, res.Full.Filename, "_live_snapshot.jpg")
	assert.Nil(t, res.Crop)
	require.Len(t, images.downloads, 5)
	assert.ElementsMatch(t, []string{"event/E1", "crop/cam1/C1"}, images.downloads[:2])
	assert.Equal(t, []string{"event/E1", "live/cam1", "crop/cam1/C1"}, images.downloads[2:])
}

func TestProcessSourcesDisabled(t *testing.T) {
	images := &fakeImages{images: map[string][]byte{"live/cam1": jpeg, "event/E1": jpeg}}
	p := NewPipeline(images, &fakeStore{}, Options{StoreEventSnapshots: false, StoreCroppedThumbnails: false}, zerolog.Nop())

	res := p.Process(context.Background(), testRecord(), Input{CameraID: "cam1", EventID: "E1"})

	assert.True(t, res.Empty())
	assert.Empty(t, images.downloads)
}

func TestProcessUploadFailure(t *testing.T) {
	images := &fakeImages{images: map[string][]byte{"event/E1": jpeg, "crop/cam1/C1": jpeg, "live/cam1": jpeg}}
	p := NewPipeline(images, &fakeStore{fail: true}, allSources, zerolog.Nop())

	res := p.Process(context.Background(), testRecord(), Input{CameraID: "cam1", EventID: "E1", CroppedID: "C1"})
	assert.True(t, res.Empty())
}

func TestProcessWithoutNVR(t *testing.T) {
	store := &fakeStore{}
	p := NewPipeline(nil, store, allSources, zerolog.Nop())

	res := p.Process(context.Background(), testRecord(), Input{CameraID: "cam1", EventID: "E1", CroppedID: "C1"})
	assert.True(t, res.Empty())

	inline := NewInlineImage("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg))
	res = p.Process(context.Background(), testRecord(), Input{Inline: inline})
	require.NotNil(t, res.Full)
	assert.Equal(t, "image/jpeg", res.Full.ContentType)
}

func TestInlineImageStoredOncePerPayload(t *testing.T) {
	store := &fakeStore{}
	p := NewPipeline(nil, store, Options{}, zerolog.Nop())
	inline := NewInlineImage("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg))

	first := testRecord()
	second := testRecord()
	second.PlateNumber = "OTHER1"

	a := p.Process(context.Background(), first, Input{Inline: inline})
	b := p.Process(context.Background(), second, Input{Inline: inline})

	require.NotNil(t, a.Full)
	require.NotNil(t, b.Full)
	assert.Equal(t, a.Full.Filename, b.Full.Filename)
	assert.Len(t, store.puts, 1)
	assert.NotSame(t, a.Full, b.Full)
}

func TestDecodeDataURL(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("hello image"))

	data, contentType, err := DecodeDataURL("data:image/webp;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello image"), data)
	assert.Equal(t, "image/webp", contentType)

	unpadded := base64.RawStdEncoding.EncodeToString([]byte("hello image"))
	data, _, err = DecodeDataURL("data:image/jpeg;base64," + unpadded)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello image"), data)

	for _, bad := range []string{
		"image/jpeg;base64," + encoded,
		"data:image/jpeg;base64",
		"data:text/plain;base64," + encoded,
		"data:image/jpeg," + encoded,
		"data:image/jpeg;base64,",
		"data:image/jpeg;base64,***",
	} {
		_, _, err := DecodeDataURL(bad)
		assert.ErrorIs(t, err, ErrInvalidDataURL, bad)
	}
}

func TestNewInlineImageEmpty(t *testing.T) {
	assert.Nil(t, NewInlineImage(""))
}
