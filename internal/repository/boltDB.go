package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/NamanBalaji/gdl/internal/downloader"
)

const (
	downloadsBucket = "downloads"
	pathsBucket     = "paths"
)

var ErrDownloadNotFound = errors.New("download not found")

// BoltDBRepository stores downloads as JSON keyed by id, with a secondary
// index from destination path to id.
type BoltDBRepository struct {
	db *bolt.DB
}

// NewBoltDBRepository opens (or creates) the database at dbPath.
func NewBoltDBRepository(dbPath string) (*BoltDBRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(downloadsBucket)); err != nil {
			return fmt.Errorf("failed to create downloads bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(pathsBucket)); err != nil {
			return fmt.Errorf("failed to create paths bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDBRepository{db: db}, nil
}

// pathRecord is the part of a stored download the path index needs.
type pathRecord struct {
	FilePath string `json:"file_path"`
}

// Save persists a download and keeps the path index in step with its
// current destination.
func (r *BoltDBRepository) Save(download *downloader.Download) error {
	data, err := json.Marshal(download)
	if err != nil {
		return fmt.Errorf("failed to marshal download: %w", err)
	}

	var rec pathRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("failed to read download path: %w", err)
	}

	key := []byte(download.ID.String())

	return r.db.Update(func(tx *bolt.Tx) error {
		downloads := tx.Bucket([]byte(downloadsBucket))
		paths := tx.Bucket([]byte(pathsBucket))

		if old := downloads.Get(key); old != nil {
			var prev pathRecord
			if err := json.Unmarshal(old, &prev); err == nil && prev.FilePath != "" && prev.FilePath != rec.FilePath {
				if err := paths.Delete([]byte(prev.FilePath)); err != nil {
					return err
				}
			}
		}

		if err := downloads.Put(key, data); err != nil {
			return fmt.Errorf("failed to save download: %w", err)
		}
		if rec.FilePath != "" {
			if err := paths.Put([]byte(rec.FilePath), key); err != nil {
				return fmt.Errorf("failed to index download path: %w", err)
			}
		}

		return nil
	})
}

// Find retrieves a download by ID.
func (r *BoltDBRepository) Find(id uuid.UUID) (*downloader.Download, error) {
	var download *downloader.Download

	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		download, err = get(tx, []byte(id.String()))
		return err
	})
	if err != nil {
		return nil, err
	}

	return download, nil
}

// FindByPath retrieves the download writing to path.
func (r *BoltDBRepository) FindByPath(path string) (*downloader.Download, error) {
	var download *downloader.Download

	err := r.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket([]byte(pathsBucket)).Get([]byte(path))
		if key == nil {
			return ErrDownloadNotFound
		}

		var err error
		download, err = get(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	return download, nil
}

// FindAll retrieves all downloads.
func (r *BoltDBRepository) FindAll() ([]*downloader.Download, error) {
	var downloads []*downloader.Download

	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(downloadsBucket)).ForEach(func(k, v []byte) error {
			var download downloader.Download
			if err := json.Unmarshal(v, &download); err != nil {
				return fmt.Errorf("failed to unmarshal download %s: %w", k, err)
			}
			downloads = append(downloads, &download)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return downloads, nil
}

// Delete removes a download and its path index entry.
func (r *BoltDBRepository) Delete(id uuid.UUID) error {
	key := []byte(id.String())

	return r.db.Update(func(tx *bolt.Tx) error {
		downloads := tx.Bucket([]byte(downloadsBucket))

		data := downloads.Get(key)
		if data == nil {
			return ErrDownloadNotFound
		}

		var rec pathRecord
		if err := json.Unmarshal(data, &rec); err == nil && rec.FilePath != "" {
			if err := tx.Bucket([]byte(pathsBucket)).Delete([]byte(rec.FilePath)); err != nil {
				return err
			}
		}

		return downloads.Delete(key)
	})
}

// Close closes the database.
func (r *BoltDBRepository) Close() error {
	return r.db.Close()
}

func get(tx *bolt.Tx, key []byte) (*downloader.Download, error) {
	data := tx.Bucket([]byte(downloadsBucket)).Get(key)
	if data == nil {
		return nil, ErrDownloadNotFound
	}

	var download downloader.Download
	if err := json.Unmarshal(data, &download); err != nil {
		return nil, fmt.Errorf("failed to unmarshal download: %w", err)
	}

	return &download, nil
}
