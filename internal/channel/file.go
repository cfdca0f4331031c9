package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const FileName = "file"

// File writes one JSON document per dispatch into dir
type File struct {
	dir string
	now func() time.Time
}

func NewFile(dir string) *File {
	return &File{dir: dir, now: time.Now}
}

func (f *File) Name() string { return FileName }

type fileDocument struct {
	RemoteID     int64          `json:"remote_id"`
	Email        string         `json:"email"`
	Fields       map[string]any `json:"fields"`
	Tags         []string       `json:"tags"`
	Note         string         `json:"note,omitempty"`
	DispatchedAt time.Time      `json:"dispatched_at"`
}

func (f *File) Send(_ context.Context, req Request) Result {
	now := f.now().UTC()
	doc := fileDocument{
		RemoteID:     req.RemoteID,
		Email:        req.Email(),
		Fields:       req.Fields,
		Tags:         req.Payload.Tags,
		Note:         req.Payload.Note,
		DispatchedAt: now,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Fatal(fmt.Errorf("encode dispatch document: %w", err))
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return Retry(fmt.Errorf("create dispatch dir: %w", err))
	}
	name := fmt.Sprintf("%d-%d.json", req.RemoteID, now.UnixNano())
	tmp := filepath.Join(f.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Retry(fmt.Errorf("write dispatch document: %w", err))
	}
	if err := os.Rename(tmp, filepath.Join(f.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return Retry(fmt.Errorf("publish dispatch document: %w", err))
	}
	return OK(name)
}
