// Package cache owns the on-disk layout of cached payloads:
// <root>/<ocId>/<fileName>.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/italolelis/syncbox/internal/transfer"
)

type Cache struct {
	root string
}

func New(root string) Cache {
	return Cache{root: root}
}

func (c Cache) Root() string {
	return c.root
}

// Dir is the folder holding everything cached for ocID.
func (c Cache) Dir(ocID string) string {
	return filepath.Join(c.root, filepath.Base(ocID))
}

// PayloadPath is where the cached copy of rec lives.
func (c Cache) PayloadPath(rec transfer.Record) string {
	return filepath.Join(c.Dir(rec.OcID), filepath.Base(rec.FileName))
}

// Remove deletes the payload folder of ocID. A missing folder is not an error.
func (c Cache) Remove(ocID string) error {
	if ocID == "" || filepath.Base(ocID) != ocID {
		return fmt.Errorf("invalid oc id %q", ocID)
	}

	if err := os.RemoveAll(c.Dir(ocID)); err != nil {
		return fmt.Errorf("failed to remove payload of %s: %w", ocID, err)
	}

	return nil
}
