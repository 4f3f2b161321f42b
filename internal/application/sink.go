package application

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Sink accepts a directory of retrieved files into a processing queue,
// removing them from the staging area. Must tolerate re-delivery of
// the same filename.
type Sink interface {
	Accept(ctx context.Context, dir string) error
}

// DirSink moves staged files into a queue directory. A file whose name
// already exists in the queue is replaced, so re-delivery after a
// crashed cycle converges.
type DirSink struct {
	QueueDir string
}

func (s *DirSink) Accept(ctx context.Context, dir string) error {
	if err := os.MkdirAll(s.QueueDir, 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return ctx.Err()
		}
		dst := filepath.Join(s.QueueDir, d.Name())
		if err := os.Rename(path, dst); err != nil {
			// Rename fails across filesystems; fall back to copy.
			if err := copyFile(path, dst); err != nil {
				return err
			}
			return os.Remove(path)
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create queue file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy staged file: %w", err)
	}
	return out.Close()
}
