package sessionstore

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/evgray/keyfort-server/internal/model"
)

var bucketSessions = []byte("sessions")

// Bolt is a bbolt-backed session store. Each session gets a nested bucket
// under the top-level sessions bucket.
type Bolt struct {
	db *bbolt.DB
}

var _ model.SessionStore = (*Bolt)(nil)

func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Get(_ context.Context, sessionID, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		session := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if session == nil {
			return model.ErrNotFound
		}
		value := session.Get([]byte(key))
		if value == nil {
			return model.ErrNotFound
		}
		out = make([]byte, len(value))
		copy(out, value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bolt) Set(_ context.Context, sessionID, key string, value []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		session, err := tx.Bucket(bucketSessions).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return err
		}
		return session.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write session value: %w", err)
	}
	return nil
}

func (b *Bolt) Delete(_ context.Context, sessionID, key string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		session := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if session == nil {
			return nil
		}
		return session.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session value: %w", err)
	}
	return nil
}

func (b *Bolt) DeleteSession(_ context.Context, sessionID string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketSessions)
		if root.Bucket([]byte(sessionID)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(sessionID))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
