package unifi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"lpr-service/internal/domain/lpr"
)

// SnapshotURL returns the event thumbnail when eventID is set, otherwise the
// camera's live snapshot.
func (c *Client) SnapshotURL(cameraID, eventID string) string {
	if eventID != "" {
		return fmt.Sprintf("%s/proxy/protect/api/events/%s/thumbnail", c.baseURL, url.PathEscape(eventID))
	}
	if cameraID == "" {
		return ""
	}
	return fmt.Sprintf("%s/proxy/protect/api/cameras/%s/snapshot", c.baseURL, url.PathEscape(cameraID))
}

func (c *Client) CropURL(cameraID, croppedID string) string {
	if cameraID == "" || croppedID == "" {
		return ""
	}
	return fmt.Sprintf("%s/proxy/protect/api/cameras/%s/detections/%s/thumbnail",
		c.baseURL, url.PathEscape(cameraID), url.PathEscape(croppedID))
}

// DetectionThumbnails lists every image the console can serve for a detection,
// full-scene images first.
func (c *Client) DetectionThumbnails(cameraID, eventID, croppedID string) []lpr.ThumbnailRef {
	if cameraID == "" {
		return nil
	}

	var refs []lpr.ThumbnailRef
	if eventID != "" {
		refs = append(refs, lpr.ThumbnailRef{Kind: lpr.ThumbnailEventSnapshot, URL: c.SnapshotURL(cameraID, eventID)})
	}
	refs = append(refs, lpr.ThumbnailRef{Kind: lpr.ThumbnailLiveSnapshot, URL: c.SnapshotURL(cameraID, "")})
	if crop := c.CropURL(cameraID, croppedID); crop != "" {
		refs = append(refs, lpr.ThumbnailRef{Kind: lpr.ThumbnailPlateCrop, URL: crop})
	}
	return refs
}

// DownloadImage fetches an image with the session cookie. The size limit is
// enforced on Content-Length and again while reading, since the header can
// be missing or wrong.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "image/*")

	resp, err := c.images.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	limit := c.cfg.MaxImageBytes
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: content length %d > %d", ErrImageTooLarge, resp.ContentLength, limit)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, limit)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image from %s", imageURL)
	}
	return data, nil
}
