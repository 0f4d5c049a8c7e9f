package models

import (
	"encoding/json"
	"time"
)

// Project is a named container owned by exactly one user.
type Project struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Scene is an opaque JSON scene-graph document.
type Scene = json.RawMessage

// Backup is a previous version of a project's scene.
type Backup struct {
	Timestamp time.Time       `json:"timestamp"`
	Snapshot  json.RawMessage `json:"snapshot"`
}
