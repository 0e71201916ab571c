package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"keyvex/internal/tcc"
)

var safeJobID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// FileMirror persists each context as <dir>/<jobId>.json.
type FileMirror struct {
	dir string
}

// NewFileMirror creates the directory if needed.
func NewFileMirror(dir string) (*FileMirror, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "keyvex-tcc")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create tcc directory: %w", err)
	}
	return &FileMirror{dir: dir}, nil
}

func (f *FileMirror) Name() string { return "file" }

func (f *FileMirror) path(jobID string) (string, error) {
	if !safeJobID.MatchString(jobID) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return filepath.Join(f.dir, jobID+".json"), nil
}

// Put writes through a temp file and renames it into place.
func (f *FileMirror) Put(_ context.Context, t *tcc.Context) error {
	p, err := f.path(t.JobID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tcc: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, t.JobID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write tcc: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close tcc file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move tcc file: %w", err)
	}
	return nil
}

func (f *FileMirror) Load(_ context.Context, jobID string) (*tcc.Context, error) {
	p, err := f.path(jobID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tcc: %w", err)
	}
	var t tcc.Context
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("corrupt tcc file %s: %w", p, err)
	}
	return &t, nil
}

func (f *FileMirror) Remove(_ context.Context, jobID string) error {
	p, err := f.path(jobID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete tcc file: %w", err)
	}
	return nil
}

// JobIDs lists the job IDs that have a file on disk.
func (f *FileMirror) JobIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
