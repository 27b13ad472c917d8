package unifi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"lpr-service/internal/domain/lpr"
)

type Camera struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	MarketName  string `json:"marketName"`
	Mac         string `json:"mac"`
	Host        string `json:"host"`
	State       string `json:"state"`
	IsConnected bool   `json:"isConnected"`
}

func (c Camera) Info() lpr.CameraInfo {
	model := c.MarketName
	if model == "" {
		model = c.Type
	}
	return lpr.CameraInfo{
		ID:    c.ID,
		Name:  c.Name,
		Model: model,
		MAC:   c.Mac,
		State: c.State,
	}
}

func (c *Client) Cameras(ctx context.Context) ([]Camera, error) {
	var cameras []Camera
	if err := c.getJSON(ctx, "/proxy/protect/api/cameras", nil, &cameras); err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cameras, nil
}

func (c *Client) Camera(ctx context.Context, id string) (*Camera, error) {
	var camera Camera
	err := c.getJSON(ctx, "/proxy/protect/api/cameras/"+url.PathEscape(id), nil, &camera)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		return nil, fmt.Errorf("failed to get camera %s: %w", id, err)
	}
	return &camera, nil
}
