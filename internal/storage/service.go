package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"backend-walklog/internal/db"

	"github.com/google/uuid"
)

// Service copies walk photos into the media directory and records them in
// storage_objects.
type Service struct {
	db       db.Querier
	mediaDir string
}

func NewService(db db.Querier, mediaDir string) *Service {
	return &Service{db: db, mediaDir: mediaDir}
}

func (s *Service) SaveObject(ctx context.Context, sessionID, path, kind string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO storage_objects (id, session_id, path, kind)
		VALUES ($1,$2,$3,$4)
	`, id, sessionID, path, kind)
	if err != nil {
		return "", err
	}
	return id, nil
}

// AttachImage copies srcPath to <mediaDir>/<sessionID>/<uuid><ext> and returns
// the stored path. The copy is removed again if the row cannot be written.
func (s *Service) AttachImage(ctx context.Context, sessionID, srcPath string) (string, error) {
	dir := filepath.Join(s.mediaDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	dst := filepath.Join(dir, uuid.NewString()+filepath.Ext(srcPath))
	if err := copyFile(srcPath, dst); err != nil {
		return "", err
	}
	if _, err := s.SaveObject(ctx, sessionID, dst, "walk_image"); err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create image copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy image: %w", err)
	}
	return out.Close()
}
