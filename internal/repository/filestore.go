// Package repository provides the infrastructure implementations behind the
// domain repository interfaces: file-backed snapshot persistence, the
// ClickHouse audit sink, the Kafka decision publisher, and the layered
// latest-decision cache.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/util"
)

const (
	streamSnapshotSuffix = ".stream.json"
	processSnapshotFile  = "process.json"
	snapshotFileMode     = 0o644
	snapshotDirMode      = 0o755
)

// FileSnapshotStore persists snapshot envelopes as JSON files, one per
// stream plus one process-wide file. Writes are atomic (temp + fsync +
// rename) so a crash mid-write never corrupts the previous snapshot.
type FileSnapshotStore struct {
	dir string
}

func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("snapshot store: empty directory")
	}
	if err := os.MkdirAll(dir, snapshotDirMode); err != nil {
		return nil, fmt.Errorf("snapshot store: create %s: %w", dir, err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (s *FileSnapshotStore) SaveStream(ctx context.Context, snap *models.StreamSnapshot) error {
	if snap == nil || snap.Profile == "" {
		return fmt.Errorf("stream snapshot without profile: %w", models.ErrInvalidInput)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal stream snapshot %s: %w", snap.Profile, err)
	}
	path := s.streamPath(snap.Profile)
	if err := util.WriteFileAtomic(path, data, snapshotFileMode); err != nil {
		return fmt.Errorf("write stream snapshot %s: %w", snap.Profile, err)
	}
	return nil
}

// LoadStream returns (nil, nil) when no snapshot exists yet: a cold start is
// not an error.
func (s *FileSnapshotStore) LoadStream(ctx context.Context, profile string) (*models.StreamSnapshot, error) {
	data, err := os.ReadFile(s.streamPath(profile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stream snapshot %s: %w", profile, err)
	}
	var snap models.StreamSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode stream snapshot %s: %w", profile, err)
	}
	if snap.Schema != models.StreamSnapshotSchema {
		return nil, fmt.Errorf("stream snapshot %s has schema %q: %w", profile, snap.Schema, models.ErrInvalidInput)
	}
	return &snap, nil
}

func (s *FileSnapshotStore) SaveProcess(ctx context.Context, snap *models.ProcessSnapshot) error {
	if snap == nil {
		return fmt.Errorf("nil process snapshot: %w", models.ErrInvalidInput)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal process snapshot: %w", err)
	}
	if err := util.WriteFileAtomic(filepath.Join(s.dir, processSnapshotFile), data, snapshotFileMode); err != nil {
		return fmt.Errorf("write process snapshot: %w", err)
	}
	return nil
}

func (s *FileSnapshotStore) LoadProcess(ctx context.Context) (*models.ProcessSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, processSnapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read process snapshot: %w", err)
	}
	var snap models.ProcessSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode process snapshot: %w", err)
	}
	if snap.Schema != models.ProcessSnapshotSchema {
		return nil, fmt.Errorf("process snapshot has schema %q: %w", snap.Schema, models.ErrInvalidInput)
	}
	return &snap, nil
}

// streamPath sanitizes the profile so it is always a flat file under dir.
func (s *FileSnapshotStore) streamPath(profile string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, profile)
	return filepath.Join(s.dir, safe+streamSnapshotSuffix)
}
