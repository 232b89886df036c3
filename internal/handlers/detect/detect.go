package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"photocron/internal/domain"
	"photocron/internal/retry"
)

// ImageExtensions are the file suffixes treated as photos (case-insensitive).
var ImageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

func IsImage(path string) bool {
	return ImageExtensions[strings.ToLower(filepath.Ext(path))]
}

type Config struct {
	APIURL    string
	PhotoDir  string
	ReviewDir string // relative paths are resolved against PhotoDir
	Threshold float64
	Timeout   time.Duration
	Policy    retry.Policy
}

// Detector scans the photo directory and moves flagged images to review.
type Detector struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Detector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReviewDir == "" {
		cfg.ReviewDir = "review"
	}
	if !filepath.IsAbs(cfg.ReviewDir) {
		cfg.ReviewDir = filepath.Join(cfg.PhotoDir, cfg.ReviewDir)
	}
	return &Detector{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (d *Detector) ReviewDir() string { return d.cfg.ReviewDir }

// Result is the detection API response.
type Result struct {
	IsNude     bool    `json:"is_nude"`
	Confidence float64 `json:"confidence"`
}

// Detect uploads one image. Network failures and 408/429/5xx responses are
// retryable; other 4xx responses and unparsable bodies are terminal.
func (d *Detector) Detect(ctx context.Context, path string) (Result, error) {
	body, contentType, err := multipartFile(path)
	if err != nil {
		return Result{}, retry.Terminal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.APIURL, body)
	if err != nil {
		return Result{}, retry.Terminal(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, retry.HTTPStatusError(resp.StatusCode, string(respBody))
	}

	var res Result
	if err := json.Unmarshal(respBody, &res); err != nil {
		return Result{}, retry.Terminal(fmt.Errorf("malformed detection response: %w", err))
	}
	return res, nil
}

func multipartFile(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// Images lists every image under the photo directory, skipping the review folder.
func (d *Detector) Images() ([]string, error) {
	var images []string
	err := filepath.WalkDir(d.cfg.PhotoDir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if path == d.cfg.ReviewDir {
				return filepath.SkipDir
			}
			return nil
		}
		if e.Type().IsRegular() && IsImage(path) {
			images = append(images, path)
		}
		return nil
	})
	return images, err
}

// MoveToReview moves path into the review folder, picking name_N.ext when
// the name is taken. It returns the destination.
func (d *Detector) MoveToReview(path string) (string, error) {
	if err := os.MkdirAll(d.cfg.ReviewDir, 0o755); err != nil {
		return "", fmt.Errorf("create review dir: %w", err)
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	dst := filepath.Join(d.cfg.ReviewDir, base)
	for n := 1; ; n++ {
		if _, err := os.Stat(dst); errors.Is(err, fs.ErrNotExist) {
			break
		}
		dst = filepath.Join(d.cfg.ReviewDir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("move to review: %w", err)
	}
	return dst, nil
}

// Run is the job body: detect every image and quarantine those above the threshold.
func (d *Detector) Run(ctx context.Context) domain.Outcome {
	if d.cfg.APIURL == "" {
		return domain.Skipped("detection API URL not configured")
	}
	images, err := d.Images()
	if err != nil {
		return domain.Failure(fmt.Errorf("scan photo dir: %w", err), nil)
	}
	if len(images) == 0 {
		return domain.Skipped("no images to process")
	}

	var processed, moved, failed int
	for _, img := range images {
		if ctx.Err() != nil {
			break
		}
		out := retry.Execute(ctx, d.cfg.Policy, func(ctx context.Context, _ int) (map[string]any, error) {
			res, err := d.Detect(ctx, img)
			if err != nil {
				return nil, err
			}
			return map[string]any{"is_nude": res.IsNude, "confidence": res.Confidence}, nil
		})
		if out.Status != domain.StatusSuccess {
			failed++
			log.Warn().Str("image", img).Str("error", out.Err()).Msg("detection failed")
			continue
		}
		processed++

		confidence, _ := out.Detail["confidence"].(float64)
		if confidence <= d.cfg.Threshold {
			continue
		}
		dst, err := d.MoveToReview(img)
		if err != nil {
			failed++
			log.Error().Err(err).Str("image", img).Msg("failed to move image to review")
			continue
		}
		moved++
		log.Warn().Str("image", filepath.Base(img)).Str("review", dst).Float64("confidence", confidence).Msg("image flagged for review")
	}

	detail := map[string]any{
		"total_images":    len(images),
		"processed":       processed,
		"moved_to_review": moved,
		"errors":          failed,
	}
	if processed == 0 && failed > 0 {
		return domain.Failure(errors.New("every image failed detection"), detail)
	}
	return domain.Success(detail)
}

type ReviewFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type ReviewStats struct {
	Exists    bool         `json:"review_dir_exists"`
	Dir       string       `json:"review_dir"`
	Count     int          `json:"count"`
	TotalSize int64        `json:"total_size"`
	Files     []ReviewFile `json:"files"`
}

func (d *Detector) ReviewStats() (ReviewStats, error) {
	stats := ReviewStats{Dir: d.cfg.ReviewDir, Files: []ReviewFile{}}
	entries, err := os.ReadDir(d.cfg.ReviewDir)
	if errors.Is(err, fs.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	stats.Exists = true
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		stats.Files = append(stats.Files, ReviewFile{Name: e.Name(), Size: info.Size()})
		stats.TotalSize += info.Size()
	}
	stats.Count = len(stats.Files)
	return stats, nil
}
