package ports

import "context"

// StoragePort persists opaque save envelopes keyed by match id.
type StoragePort interface {
	// WriteSave stores blob under key, replacing any previous save.
	WriteSave(ctx context.Context, key string, blob []byte) error

	// ReadSave returns the blob stored under key, or an error if none
	// exists.
	ReadSave(ctx context.Context, key string) ([]byte, error)
}
