// Package store persists machine snapshots.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	hsm "github.com/stateforward/hsm-engine"
)

const ErrCodeNotFound = "HSM_SNAPSHOT_NOT_FOUND"

var ErrNotFound = apperrors.New("snapshot not found", apperrors.CategoryBadInput).
	WithTextCode(ErrCodeNotFound)

// Store saves and loads snapshots keyed by machine id.
type Store interface {
	Save(ctx context.Context, snapshot *hsm.Snapshot) error
	Load(ctx context.Context, id string) (*hsm.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Codec serializes snapshots.
type Codec interface {
	Marshal(snapshot *hsm.Snapshot) ([]byte, error)
	Unmarshal(data []byte) (*hsm.Snapshot, error)
	Extension() string
}

type JSON struct{}

func (JSON) Marshal(snapshot *hsm.Snapshot) ([]byte, error) {
	return json.MarshalIndent(snapshot, "", "  ")
}

func (JSON) Unmarshal(data []byte) (*hsm.Snapshot, error) {
	var snapshot hsm.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (JSON) Extension() string { return ".json" }

type YAML struct{}

func (YAML) Marshal(snapshot *hsm.Snapshot) ([]byte, error) {
	return yaml.Marshal(snapshot)
}

func (YAML) Unmarshal(data []byte) (*hsm.Snapshot, error) {
	var snapshot hsm.Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (YAML) Extension() string { return ".yaml" }

// File keeps one file per machine in a directory.
type File struct {
	dir   string
	codec Codec
}

// NewFile creates dir if needed. The codec defaults to JSON.
func NewFile(dir string, maybeCodec ...Codec) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	var codec Codec = JSON{}
	if len(maybeCodec) > 0 && maybeCodec[0] != nil {
		codec = maybeCodec[0]
	}
	return &File{dir: dir, codec: codec}, nil
}

func (f *File) path(id string) string {
	return filepath.Join(f.dir, filepath.Base(id)+f.codec.Extension())
}

func (f *File) Save(ctx context.Context, snapshot *hsm.Snapshot) error {
	data, err := f.codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot %q: %w", snapshot.ID, err)
	}
	name := f.path(snapshot.ID)
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, name); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (f *File) Load(ctx context.Context, id string) (*hsm.Snapshot, error) {
	name := f.path(id)
	data, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NotFound(id)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	snapshot, err := f.codec.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %q: %w", id, err)
	}
	snapshot.ID = id
	return snapshot, nil
}

func (f *File) Delete(ctx context.Context, id string) error {
	if err := os.Remove(f.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsNotFound reports whether err means the snapshot does not exist.
func IsNotFound(err error) bool {
	var ge *apperrors.Error
	return errors.As(err, &ge) && ge.TextCode == ErrCodeNotFound
}

// NotFound is the error stores return for a missing id.
func NotFound(id string) error {
	err := ErrNotFound.Clone()
	err.Message = fmt.Sprintf("snapshot %q not found", id)
	err.Source = ErrNotFound
	return err.WithMetadata(map[string]any{"id": id})
}

// Save dumps m into s.
func Save(ctx context.Context, s Store, m *hsm.Machine) error {
	return s.Save(ctx, m.Dump())
}

// Resume restores m from the snapshot stored under its id.
func Resume(ctx context.Context, s Store, m *hsm.Machine) error {
	snapshot, err := s.Load(ctx, m.ID())
	if err != nil {
		return err
	}
	return m.Restore(ctx, snapshot)
}
