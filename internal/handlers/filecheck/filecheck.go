package filecheck

import (
	"context"
	"fmt"
	"os"

	"photocron/internal/domain"
)

// Checker lists the regular files present in a storage path.
type Checker struct {
	Path  string
	Limit int
}

func New(path string, limit int) *Checker {
	if limit <= 0 {
		limit = 10
	}
	return &Checker{Path: path, Limit: limit}
}

// Files returns up to Limit regular file names in directory order.
func (c *Checker) Files() ([]string, error) {
	entries, err := os.ReadDir(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read storage path: %w", err)
	}
	files := make([]string, 0, c.Limit)
	for _, e := range entries {
		if len(files) >= c.Limit {
			break
		}
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

func (c *Checker) Run(ctx context.Context) domain.Outcome {
	files, err := c.Files()
	if err != nil {
		return domain.Failure(err, map[string]any{"path": c.Path})
	}
	return domain.Success(map[string]any{"path": c.Path, "files": files, "count": len(files)})
}
