package domain

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const (
	idBytes = 16
	idLen   = 2 * idBytes

	// BlobExt is appended to a FileID to name its blob.
	BlobExt = ".blob"
)

// FileID identifies one stored file: 128 random bits as 32 lowercase hex
// characters. Ids are never reused.
type FileID string

// NewID returns a fresh random FileID.
func NewID() (FileID, error) {
	var b [idBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return FileID(hex.EncodeToString(b[:])), nil
}

// ParseID returns s as a FileID, or ErrInvalidID unless s is exactly 32
// lowercase hex characters.
func ParseID(s string) (FileID, error) {
	if !isValidID(s) {
		return "", ErrInvalidID
	}
	return FileID(s), nil
}

// IDFromBlobName recovers the FileID from a name produced by BlobName.
func IDFromBlobName(name string) (FileID, error) {
	raw, ok := strings.CutSuffix(name, BlobExt)
	if !ok {
		return "", ErrInvalidID
	}
	return ParseID(raw)
}

func (id FileID) String() string { return string(id) }

// Valid reports whether id would be accepted by ParseID.
func (id FileID) Valid() bool { return isValidID(string(id)) }

// BlobName is the storage name of the blob belonging to id.
func (id FileID) BlobName() string { return string(id) + BlobExt }

func isValidID(s string) bool {
	if len(s) != idLen {
		return false
	}
	for _, c := range []byte(s) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
