package thumbnail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"lpr-service/internal/domain/lpr"
	"lpr-service/internal/storage"
)

var ErrInvalidDataURL = errors.New("invalid data url")

// DecodeDataURL decodes data:image/<fmt>;base64,<data>.
func DecodeDataURL(dataURL string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing payload", ErrInvalidDataURL)
	}

	params := strings.Split(header, ";")
	contentType := strings.ToLower(strings.TrimSpace(params[0]))
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("%w: content type %q", ErrInvalidDataURL, contentType)
	}
	if params[len(params)-1] != "base64" {
		return nil, "", fmt.Errorf("%w: not base64 encoded", ErrInvalidDataURL)
	}

	payload = strings.TrimSpace(payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some firmware drops the padding.
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrInvalidDataURL)
	}
	return data, contentType, nil
}

// InlineImage is the alarm thumbnail shared by every plate of one payload.
// It is decoded and stored at most once; later plates reuse the artifact.
type InlineImage struct {
	dataURL string

	once     sync.Once
	artifact *lpr.ThumbnailArtifact
	err      error
}

// NewInlineImage returns nil for an empty data URL.
func NewInlineImage(dataURL string) *InlineImage {
	if dataURL == "" {
		return nil
	}
	return &InlineImage{dataURL: dataURL}
}

func (i *InlineImage) store(ctx context.Context, store Store, hints storage.ObjectHints) (*lpr.ThumbnailArtifact, error) {
	i.once.Do(func() {
		data, contentType, err := DecodeDataURL(i.dataURL)
		if err != nil {
			i.err = err
			return
		}
		artifact, err := store.Put(ctx, data, hints)
		if err != nil {
			i.err = err
			return
		}
		artifact.ContentType = contentType
		i.artifact = artifact
	})
	if i.err != nil {
		return nil, i.err
	}
	copied := *i.artifact
	return &copied, nil
}
