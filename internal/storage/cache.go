// Package storage is the client's local cache: room display order and
// per-room scroll offsets survive restarts in a bbolt file. The cache is
// advisory — every read degrades to "nothing saved" rather than failing the
// caller, and corrupt entries are dropped on the next write.
package storage

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"teamchat/internal/utils"
)

var (
	bucketOrder  = []byte("order")
	bucketScroll = []byte("scroll")
	bucketMeta   = []byte("meta")
)

// maxOrderAge bounds how long a saved room order is trusted. Stale orders are
// discarded so a long-dormant client falls back to unread-first.
const maxOrderAge = 30 * 24 * time.Hour

var ErrCacheOpen = utils.NewTeamChatError("failed to open local cache")

type Cache struct {
	db  *bolt.DB
	log zerolog.Logger
}

// Open creates or opens the cache file. A cache that cannot be opened is a
// hard error; callers that want a degraded session pass the result of
// NewNullCache instead.
func Open(path string, log zerolog.Logger) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, ErrCacheOpen.WithDetails(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketOrder, bucketScroll, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, ErrCacheOpen.WithDetails(err)
	}
	return &Cache{db: db, log: log.With().Str("component", "cache").Logger()}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// ForUser scopes the cache to one account, the way the saved order is keyed.
func (c *Cache) ForUser(role, userID string) *UserCache {
	return &UserCache{cache: c, key: []byte(role + "/" + userID)}
}

// savedOrder is the stored order entry; SavedAt implements the staleness
// cutoff.
type savedOrder struct {
	Keys    []string  `json:"keys"`
	SavedAt time.Time `json:"savedAt"`
}

// UserCache satisfies chat.OrderCache for a single account.
type UserCache struct {
	cache *Cache
	key   []byte
}

// LoadOrder returns the saved display order, or nil when nothing usable is
// stored. Corrupt and stale entries read as empty.
func (u *UserCache) LoadOrder() ([]string, error) {
	var keys []string
	err := u.cache.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketOrder).Get(u.key)
		if raw == nil {
			return nil
		}
		var saved savedOrder
		if err := json.Unmarshal(raw, &saved); err != nil {
			u.cache.log.Warn().Err(err).Msg("discarding corrupt saved order")
			return nil
		}
		if time.Since(saved.SavedAt) > maxOrderAge {
			u.cache.log.Debug().Time("savedAt", saved.SavedAt).Msg("saved order too old, ignoring")
			return nil
		}
		keys = saved.Keys
		return nil
	})
	return keys, err
}

// SaveOrder persists the display order with the current timestamp.
func (u *UserCache) SaveOrder(roomKeys []string) error {
	raw, err := json.Marshal(savedOrder{Keys: roomKeys, SavedAt: time.Now()})
	if err != nil {
		return err
	}
	return u.cache.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrder).Put(u.key, raw)
	})
}

// ScrollSnapshot is the remembered viewport for one room. AtBottom wins over
// Offset when restoring, matching how an active conversation reopens pinned
// to the newest message.
type ScrollSnapshot struct {
	Offset   uint64    `json:"offset"`
	AtBottom bool      `json:"atBottom"`
	SavedAt  time.Time `json:"savedAt"`
}

// maxScrollAge bounds how long a scroll snapshot is trusted. History moves
// under an old offset, so stale snapshots read as absent.
const maxScrollAge = 7 * 24 * time.Hour

// SaveScroll remembers the viewport for a room.
func (c *Cache) SaveScroll(roomKey string, snap ScrollSnapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketScroll).Put([]byte(roomKey), raw)
	})
}

// LoadScroll returns the saved viewport for a room; ok is false when nothing
// valid or fresh enough is stored.
func (c *Cache) LoadScroll(roomKey string) (snap ScrollSnapshot, ok bool) {
	c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketScroll).Get([]byte(roomKey))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &snap); err != nil {
			c.log.Warn().Err(err).Str("room", roomKey).Msg("discarding corrupt scroll snapshot")
			return nil
		}
		if time.Since(snap.SavedAt) > maxScrollAge {
			return nil
		}
		ok = true
		return nil
	})
	if !ok {
		snap = ScrollSnapshot{}
	}
	return snap, ok
}

// DropScroll forgets the saved offset, used when a room's history is cleared.
func (c *Cache) DropScroll(roomKey string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketScroll).Delete([]byte(roomKey))
	})
}

// NullCache is the degraded stand-in when no cache file is usable. Loads are
// empty, saves vanish.
type NullCache struct{}

func NewNullCache() NullCache { return NullCache{} }

func (NullCache) LoadOrder() ([]string, error) { return nil, nil }
func (NullCache) SaveOrder([]string) error     { return nil }
