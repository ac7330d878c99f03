package image

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wendelmax/polis/pkg/types"
)

var imagesBucket = []byte("images")

// index is a derived, queryable cache over image metadata. The
// cache-directory tree (manifest.json/config.json/metadata.json) is
// always the source of truth (§4.2); this bucket exists purely to
// avoid a full filesystem walk on every GetImage, and is rebuilt from
// disk on every open rather than trusted across restarts.
type index struct {
	db *bbolt.DB
}

func openIndex(cacheDir string) (*index, error) {
	path := filepath.Join(cacheDir, ".index.db")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open image index: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(imagesBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init image index bucket: %w", err)
	}
	return &index{db: db}, nil
}

// rebuild replaces the bucket's contents wholesale with images, the
// authoritative set obtained from a disk scan.
func (ix *index) rebuild(images []*types.Image) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(imagesBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(imagesBucket)
		if err != nil {
			return err
		}
		for _, img := range images {
			data, err := json.Marshal(img)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(img.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (ix *index) upsert(img *types.Image) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(img)
		if err != nil {
			return err
		}
		return tx.Bucket(imagesBucket).Put([]byte(img.ID), data)
	})
}

func (ix *index) remove(id types.ImageId) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(imagesBucket).Delete([]byte(id))
	})
}

func (ix *index) get(id types.ImageId) (*types.Image, error) {
	var img *types.Image
	err := ix.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(imagesBucket).Get([]byte(id))
		if v == nil {
			return nil
		}
		var out types.Image
		if err := json.Unmarshal(v, &out); err != nil {
			return err
		}
		img = &out
		return nil
	})
	return img, err
}

func (ix *index) close() error {
	return ix.db.Close()
}
