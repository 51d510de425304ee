package thumbnail

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const thumbnailWidth = 256

// Renderer produces small JPEG previews of finished output images.
// Sources may be local paths or http(s) URLs on an engine host.
type Renderer struct {
	resultDir string
	client    *http.Client
	logger    *zap.Logger
}

func NewRenderer(resultDir string, logger *zap.Logger) *Renderer {
	return &Renderer{
		resultDir: resultDir,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

func (r *Renderer) Render(ctx context.Context, taskID, imageRef string) (string, error) {
	src, err := r.open(ctx, imageRef)
	if err != nil {
		r.logger.Error("Failed to open output image",
			zap.String("task_id", taskID),
			zap.String("ref", imageRef),
			zap.Error(err),
		)
		return "", fmt.Errorf("open output image: %w", err)
	}

	// Width-bound resize preserving aspect ratio.
	thumb := imaging.Resize(src, thumbnailWidth, 0, imaging.Lanczos)

	outputPath := filepath.Join(r.resultDir, fmt.Sprintf("thumb_%s.jpg", taskID))
	if err := imaging.Save(thumb, outputPath, imaging.JPEGQuality(85)); err != nil {
		r.logger.Error("Failed to save thumbnail",
			zap.String("path", outputPath),
			zap.Error(err),
		)
		return "", fmt.Errorf("save thumbnail: %w", err)
	}

	r.logger.Info("Thumbnail rendered",
		zap.String("task_id", taskID),
		zap.String("path", outputPath),
	)
	return outputPath, nil
}

func (r *Renderer) open(ctx context.Context, imageRef string) (image.Image, error) {
	if strings.HasPrefix(imageRef, "http://") || strings.HasPrefix(imageRef, "https://") {
		return r.fetch(ctx, imageRef)
	}

	src, err := imaging.Open(imageRef)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (r *Renderer) fetch(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode fetched image: %w", err)
	}
	return img, nil
}

// EnsureDir creates the result directory if it does not exist yet.
func (r *Renderer) EnsureDir() error {
	return os.MkdirAll(r.resultDir, 0o755)
}
