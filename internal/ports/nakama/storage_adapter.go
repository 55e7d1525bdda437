package nakama

import (
	"context"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
)

const saveCollection = "hextactics_saves"

// NakamaStorageAdapter implements ports.StoragePort over Nakama's storage
// engine. Saves are system-owned objects keyed by match id.
type NakamaStorageAdapter struct {
	nk runtime.NakamaModule
}

// NewNakamaStorageAdapter creates a new storage adapter.
func NewNakamaStorageAdapter(nk runtime.NakamaModule) *NakamaStorageAdapter {
	return &NakamaStorageAdapter{nk: nk}
}

// WriteSave stores the envelope under the match's key, replacing any
// previous save.
func (a *NakamaStorageAdapter) WriteSave(ctx context.Context, key string, blob []byte) error {
	writes := []*runtime.StorageWrite{
		{
			Collection:      saveCollection,
			Key:             key,
			Value:           string(blob),
			PermissionRead:  1, // owner read
			PermissionWrite: 0, // server only
		},
	}
	if _, err := a.nk.StorageWrite(ctx, writes); err != nil {
		return fmt.Errorf("failed to write save %s: %w", key, err)
	}
	return nil
}

// ReadSave fetches the envelope stored under key.
func (a *NakamaStorageAdapter) ReadSave(ctx context.Context, key string) ([]byte, error) {
	reads := []*runtime.StorageRead{
		{Collection: saveCollection, Key: key},
	}
	objects, err := a.nk.StorageRead(ctx, reads)
	if err != nil {
		return nil, fmt.Errorf("failed to read save %s: %w", key, err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("no save found under %s", key)
	}
	return []byte(objects[0].GetValue()), nil
}
