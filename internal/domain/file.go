// Package domain file.go contains the stored file object and its public projection.
package domain

import "time"

// FileObject is the metadata record for one stored blob. It is immutable once
// created; it only ever transitions to deleted or expired.
type FileObject struct {
	ID           FileID
	CreatedAt    time.Time
	ExpiresAt    time.Time
	BlobPath     string
	PasswordHash string // empty when the object is not password protected
	Message      string
	Filename     string
	Size         int64
}

// Protected reports whether a password is required to access the object.
func (f FileObject) Protected() bool { return f.PasswordHash != "" }

// View is the caller-facing projection of a FileObject. It never carries the
// password hash.
type View struct {
	ID          FileID    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Path        string    `json:"path"`
	Message     string    `json:"message"`
	Filename    string    `json:"filename,omitempty"`
	Size        int64     `json:"size"`
	Protected   bool      `json:"protected"`
	BlobMissing bool      `json:"blobMissing,omitempty"`
}

// View returns the public projection of f.
func (f FileObject) View() View {
	return View{
		ID:        f.ID,
		CreatedAt: f.CreatedAt,
		ExpiresAt: f.ExpiresAt,
		Path:      f.BlobPath,
		Message:   f.Message,
		Filename:  f.Filename,
		Size:      f.Size,
		Protected: f.Protected(),
	}
}
