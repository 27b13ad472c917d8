package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"lpr-service/internal/domain/lpr"
)

// LocalStore keeps thumbnails on disk. It is meant for single-host setups and
// development; BaseURL is where the HTTP server exposes the directory.
type LocalStore struct {
	basePath string
	baseURL  string
}

func NewLocalStore(basePath, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

func (ls *LocalStore) BasePath() string {
	return ls.basePath
}

func (ls *LocalStore) Put(ctx context.Context, data []byte, hints ObjectHints) (*lpr.ThumbnailArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := ObjectKey(hints)
	fullPath, err := ls.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to save file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to save file: %w", err)
	}

	return &lpr.ThumbnailArtifact{
		StoragePath: fullPath,
		PublicURL:   ls.baseURL + "/" + key,
		Filename:    key,
		SizeBytes:   int64(len(data)),
		ContentType: DetectContentType(data),
		UploadedAt:  time.Now().UTC(),
	}, nil
}

func (ls *LocalStore) resolve(key string) (string, error) {
	cleanPath := path.Clean("/" + key)[1:]
	if cleanPath == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid path")
	}
	return filepath.Join(ls.basePath, filepath.FromSlash(cleanPath)), nil
}
