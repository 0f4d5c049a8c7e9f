// Package archive reads and writes portable project archives: a zstd
// compressed JSON document holding one projects.Snapshot.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/levelstore/internal/server/projects"
	"github.com/klauspost/compress/zstd"
)

const (
	formatName    = "levelstore-project"
	formatVersion = 1

	// MaxSize bounds the decompressed size of an archive.
	MaxSize = 256 << 20
)

var ErrBadArchive = errors.New("not a levelstore project archive")

type envelope struct {
	Format     string             `json:"format"`
	Version    int                `json:"version"`
	ExportedAt time.Time          `json:"exported_at"`
	Project    *projects.Snapshot `json:"project"`
}

// Write encodes snap to w.
func Write(w io.Writer, snap *projects.Snapshot, exportedAt time.Time) error {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}

	env := envelope{
		Format:     formatName,
		Version:    formatVersion,
		ExportedAt: exportedAt.UTC(),
		Project:    snap,
	}
	if err := json.NewEncoder(zw).Encode(&env); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode archive: %w", err)
	}
	return zw.Close()
}

// Read decodes an archive written by Write.
func Read(r io.Reader) (*projects.Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	defer zr.Close()

	var env envelope
	dec := json.NewDecoder(io.LimitReader(zr, MaxSize))
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	if env.Format != formatName || env.Project == nil {
		return nil, ErrBadArchive
	}
	if env.Version > formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadArchive, env.Version)
	}
	return env.Project, nil
}
