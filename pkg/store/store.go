// Package store defines the persistence interfaces for builds, project
// files, and conversation messages.
package store

import (
	"errors"

	"github.com/plugforge/plugforge/pkg/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrActiveBuildExists is returned by CreateBuild when the session already
// has a build in a non-terminal status. At most one build per session may be
// in flight at a time.
var ErrActiveBuildExists = errors.New("session already has an active build")

// BuildStore is the durable record of a build's plan, phase states, and
// status. The runner checkpoints here after every state transition so a
// restarted process can reconstruct an equivalent runner.
type BuildStore interface {
	CreateBuild(b *model.Build) error
	GetBuild(id string) (*model.Build, error)
	// GetLatestBuild returns the most recent build for a session, or
	// ErrNotFound if the session has none.
	GetLatestBuild(sessionID string) (*model.Build, error)
	ListBuilds(sessionID string) ([]*model.Build, error)
	UpdateBuild(b *model.Build) error
	AddEvent(e *model.Event) error
	GetEvents(buildID string, afterID int64) ([]*model.Event, error)
}

// FileStore is durable CRUD for generated project files, keyed by session.
// A file is not considered created/updated until its write here succeeds.
type FileStore interface {
	UpsertFile(sessionID, path, content string) error
	DeleteFile(sessionID, path string) error
	GetFile(sessionID, path string) (*model.ProjectFile, error)
	ListFiles(sessionID string) ([]*model.ProjectFile, error)
}

// MessageStore persists conversation messages for a session.
type MessageStore interface {
	AddMessage(m *model.Message) error
	GetMessages(sessionID string) ([]*model.Message, error)
}
