package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"cinemitr/internal/config"
	"cinemitr/internal/store"
)

const thumbnailMaxBytes = 25 * 1024 * 1024

// ThumbnailHandler renders a fixed-width thumbnail for a content item's
// poster image and records the output path on the row.
type ThumbnailHandler struct {
	cfg        config.Config
	store      *store.Store
	httpClient *http.Client
}

func NewThumbnailHandler(cfg config.Config, st *store.Store) *ThumbnailHandler {
	return &ThumbnailHandler{
		cfg:   cfg,
		store: st,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Handle reads the item's source image, resizes it, and writes the thumbnail.
func (h *ThumbnailHandler) Handle(ctx context.Context, contentID string) error {
	item, err := h.store.GetContentItem(ctx, contentID)
	if err != nil {
		return err
	}

	data, err := h.source(ctx, item.FilePath, item.VideoURL)
	if err != nil {
		return err
	}

	rendered, err := h.render(data)
	if err != nil {
		return err
	}

	baseDir := h.cfg.ThumbnailOutputDir
	if baseDir == "" {
		baseDir = "./thumbnails"
	}
	path := filepath.Join(baseDir, contentID+".jpg")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, rendered, 0o644); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}

	return h.store.UpdateContentThumbnail(ctx, contentID, path, workerActor)
}

// render decodes the source image and produces the JPEG thumbnail bytes.
func (h *ThumbnailHandler) render(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	width := h.cfg.ThumbnailWidth
	if width == 0 {
		width = 320
	}
	thumb := imaging.Resize(img, width, 0, imaging.Lanczos)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// source prefers a local file path and falls back to downloading the video
// poster URL.
func (h *ThumbnailHandler) source(ctx context.Context, filePath, videoURL *string) ([]byte, error) {
	if filePath != nil && *filePath != "" {
		data, err := os.ReadFile(*filePath)
		if err != nil {
			return nil, fmt.Errorf("read source file: %w", err)
		}
		return data, nil
	}
	if videoURL != nil && *videoURL != "" {
		return h.download(ctx, *videoURL)
	}
	return nil, errors.New("content item has no file path or video url")
}

func (h *ThumbnailHandler) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download source: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, thumbnailMaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if len(body) > thumbnailMaxBytes {
		return nil, fmt.Errorf("source too large (>%d bytes)", thumbnailMaxBytes)
	}
	return body, nil
}
