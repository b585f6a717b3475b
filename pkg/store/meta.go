package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/magpielab/magpie/pkg/types"
)

var bucketPlatforms = []byte("platforms")

// MetaStore is the catalog mapping platform symbols to their store files.
// It is the single source of truth for which platform stores exist.
type MetaStore struct {
	db *bolt.DB
}

// OpenMeta opens (or creates) the catalog at path
func OpenMeta(path string) (*MetaStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open meta store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPlatforms)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog bucket: %w", err)
	}

	return &MetaStore{db: db}, nil
}

// Close closes the catalog
func (m *MetaStore) Close() error {
	return m.db.Close()
}

// AddDatabase registers a platform store. Adding an already catalogued
// platform is a no-op.
func (m *MetaStore) AddDatabase(platform, dbPath string, isDefault bool) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlatforms)
		if b.Get([]byte(platform)) != nil {
			return nil
		}
		entry := types.PlatformCatalogEntry{
			Platform:  platform,
			DBPath:    dbPath,
			IsDefault: isDefault,
			CreatedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(platform), data)
	})
}

// ListDatabases returns all catalog entries sorted by platform
func (m *MetaStore) ListDatabases() ([]types.PlatformCatalogEntry, error) {
	var entries []types.PlatformCatalogEntry
	err := m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPlatforms)
		return b.ForEach(func(k, v []byte) error {
			var entry types.PlatformCatalogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Platform < entries[j].Platform })
	return entries, nil
}

// GeneralStatus joins catalog entries with per-store counts. A store that
// cannot be opened yields an error row instead of failing the whole report.
func (m *MetaStore) GeneralStatus(includeTaskCounts bool) ([]types.StatusRow, error) {
	entries, err := m.ListDatabases()
	if err != nil {
		return nil, err
	}

	rows := make([]types.StatusRow, 0, len(entries))
	for _, entry := range entries {
		row := types.StatusRow{Platform: entry.Platform, DBPath: entry.DBPath}

		if _, err := os.Stat(entry.DBPath); err != nil {
			row.Err = fmt.Sprintf("store missing: %v", err)
			rows = append(rows, row)
			continue
		}

		// Read-only: the daemon may own this store right now.
		platformStore, err := OpenSQLiteReadOnly(entry.Platform, entry.DBPath)
		if err != nil {
			row.Err = err.Error()
			rows = append(rows, row)
			continue
		}

		row.TotalPosts, err = platformStore.CountPosts()
		if err == nil {
			row.SizeBytes, err = platformStore.FileSize()
		}
		if err == nil && includeTaskCounts {
			row.StateCounts, err = platformStore.CountStates()
		}
		if err != nil {
			row.Err = err.Error()
		}
		platformStore.Close()
		rows = append(rows, row)
	}
	return rows, nil
}
