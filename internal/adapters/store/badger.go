package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// Key layout. Index keys carry no value; the room id is the last segment.
const (
	roomKeyPrefix  = "room:"
	geoKeyPrefix   = "idx:gh:"
	hexKeyPrefix   = "idx:hex:"
	claimKeyPrefix = "claim:"
)

// BadgerStore persists rooms in badger. Conflict detection is badger's own
// serializable snapshot isolation: every key an attempt reads is checked at commit.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a store at path. An empty path keeps
// everything in memory.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func roomKey(id domain.RoomID) []byte { return []byte(roomKeyPrefix + string(id)) }

func indexKeys(r *domain.Room) [][]byte {
	if r == nil || r.Location == nil {
		return nil
	}
	return [][]byte{
		[]byte(geoKeyPrefix + r.Location.Geohash + ":" + string(r.ID)),
		[]byte(hexKeyPrefix + r.Location.HexCell + ":" + string(r.ID)),
	}
}

func getRoom(txn *badger.Txn, id domain.RoomID) (*domain.Room, error) {
	item, err := txn.Get(roomKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	var r domain.Room
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &r) }); err != nil {
		return nil, fmt.Errorf("decode room %s: %w", id, err)
	}
	return &r, nil
}

func getClaim(txn *badger.Txn, cell string) (uint64, error) {
	item, err := txn.Get([]byte(claimKeyPrefix + cell))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("claim %s: bad counter", cell)
		}
		n = binary.BigEndian.Uint64(val)
		return nil
	})
	return n, err
}

func (s *BadgerStore) Load(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var r *domain.Room
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = getRoom(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, domain.ErrRoomGone
	}
	return r, nil
}

func (s *BadgerStore) Scan(ctx context.Context, f core.Filter) ([]*domain.Room, error) {
	out := make([]*domain.Room, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		if f.Near == nil {
			return iterate(txn, []byte(roomKeyPrefix), true, func(key, val []byte) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				var r domain.Room
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("decode %s: %w", key, err)
				}
				if f.Match(&r) {
					out = append(out, &r)
				}
				return nil
			})
		}

		ids := make(map[domain.RoomID]struct{})
		collect := func(key, _ []byte) error {
			if i := bytes.LastIndexByte(key, ':'); i >= 0 {
				ids[domain.RoomID(key[i+1:])] = struct{}{}
			}
			return nil
		}
		for _, cell := range f.Near.Geohashes {
			// Finer tokens share the cell as prefix; coarser tokens are a prefix of it.
			if err := iterate(txn, []byte(geoKeyPrefix+cell), false, collect); err != nil {
				return err
			}
			for i := 1; i < len(cell); i++ {
				if err := iterate(txn, []byte(geoKeyPrefix+cell[:i]+":"), false, collect); err != nil {
					return err
				}
			}
		}
		for _, hex := range f.Near.HexCells {
			if err := iterate(txn, []byte(hexKeyPrefix+hex+":"), false, collect); err != nil {
				return err
			}
		}
		for id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := getRoom(txn, id)
			if err != nil {
				return err
			}
			if f.Match(r) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.Finish(out), nil
}

func iterate(txn *badger.Txn, prefix []byte, values bool, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = values
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var val []byte
		if values {
			var err error
			if val, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) Guard(ctx context.Context, read []string, claim string) (*core.Guard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := &core.Guard{Read: make(map[string]uint64, len(read)), Claim: claim}
	err := s.db.View(func(txn *badger.Txn) error {
		for _, cell := range read {
			n, err := getClaim(txn, cell)
			if err != nil {
				return err
			}
			g.Read[cell] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *BadgerStore) Attempt(ctx context.Context, id domain.RoomID, fn core.TxFunc, g *core.Guard) (core.Commit, error) {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	cur, err := getRoom(txn, id)
	if err != nil {
		return core.Commit{}, err
	}
	next, err := fn(cur.Clone())
	if errors.Is(err, core.ErrNoChange) || (err == nil && next == nil && cur == nil) {
		return core.Commit{Room: cur, Previous: cur.Clone()}, nil
	}
	if err != nil {
		return core.Commit{}, err
	}

	if g != nil {
		for cell, seen := range g.Read {
			n, err := getClaim(txn, cell)
			if err != nil {
				return core.Commit{}, err
			}
			if n != seen {
				return core.Commit{}, core.ErrWriteConflict
			}
		}
	}

	for _, k := range indexKeys(cur) {
		if err := txn.Delete(k); err != nil {
			return core.Commit{}, err
		}
	}

	commit := core.Commit{Previous: cur, Changed: true}
	if next == nil {
		if err := txn.Delete(roomKey(id)); err != nil {
			return core.Commit{}, err
		}
		commit.Deleted = true
	} else {
		stored := next.Clone()
		stored.Version = 1
		if cur != nil {
			stored.Version = cur.Version + 1
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return core.Commit{}, fmt.Errorf("encode room: %w", err)
		}
		if err := txn.Set(roomKey(id), data); err != nil {
			return core.Commit{}, err
		}
		for _, k := range indexKeys(stored) {
			if err := txn.Set(k, nil); err != nil {
				return core.Commit{}, err
			}
		}
		if g != nil && g.Claim != "" {
			n, err := getClaim(txn, g.Claim)
			if err != nil {
				return core.Commit{}, err
			}
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], n+1)
			if err := txn.Set([]byte(claimKeyPrefix+g.Claim), buf[:]); err != nil {
				return core.Commit{}, err
			}
		}
		commit.Room = stored
	}

	if err := ctx.Err(); err != nil {
		return core.Commit{}, err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return core.Commit{}, core.ErrWriteConflict
		}
		return core.Commit{}, fmt.Errorf("commit room %s: %w", id, err)
	}
	return commit, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
