package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/xgr-network/xgr-relay/journal"
	"github.com/xgr-network/xgr-relay/types"
)

// DirName is the database directory below the data dir.
const DirName = "journal"

var (
	recordPrefix   = []byte("r/")
	statusPrefix   = []byte("s/")
	checkpointKey  = []byte("checkpoint")
	errEmptySubKey = errors.New("subscription id is required")
)

// Store keeps records under a per-subscription key namespace:
//
//	relay/<sub>/r/<id>                    record json
//	relay/<sub>/s/<status>/<block><id>    status index
//	relay/<sub>/checkpoint                uint64 big endian
type Store struct {
	db     *leveldb.DB
	ns     []byte
	sync   bool
	logger hclog.Logger

	// serialises read-modify-write of the status index
	mu sync.Mutex
}

var _ journal.Store = (*Store)(nil)

// Factory opens <DataDir>/journal.
func Factory(_ context.Context, p journal.Params) (journal.Store, error) {
	if p.DataDir == "" {
		return nil, fmt.Errorf("leveldb journal requires a data dir")
	}

	return Open(filepath.Join(p.DataDir, DirName), p.SubscriptionID, p.Logger)
}

func Open(path, subscriptionID string, logger hclog.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}

	s, err := New(db, subscriptionID, logger)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	s.sync = true

	return s, nil
}

// New wraps an open database.
func New(db *leveldb.DB, subscriptionID string, logger hclog.Logger) (*Store, error) {
	if subscriptionID == "" {
		return nil, errEmptySubKey
	}

	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Store{
		db:     db,
		ns:     []byte("relay/" + subscriptionID + "/"),
		logger: logger.Named("journal.leveldb"),
	}, nil
}

func (s *Store) key(parts ...[]byte) []byte {
	k := append([]byte(nil), s.ns...)
	for _, p := range parts {
		k = append(k, p...)
	}

	return k
}

func (s *Store) recordKey(id types.RequestID) []byte {
	return s.key(recordPrefix, id[:])
}

func (s *Store) statusKey(r *journal.Record) []byte {
	var block [8]byte
	binary.BigEndian.PutUint64(block[:], r.BlockNumber)

	return s.key(statusPrefix, []byte(r.Status), []byte("/"), block[:], r.RequestID[:])
}

func (s *Store) Get(_ context.Context, id types.RequestID) (*journal.Record, error) {
	return s.get(id)
}

func (s *Store) get(id types.RequestID) (*journal.Record, error) {
	raw, err := s.db.Get(s.recordKey(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, journal.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	var r journal.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}

	return &r, nil
}

func (s *Store) Put(_ context.Context, r *journal.Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.RequestID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := newBatch(s.db, s.sync)

	prev, err := s.get(r.RequestID)

	switch {
	case err == nil:
		b.Delete(s.statusKey(prev))
	case !errors.Is(err, journal.ErrNotFound):
		return err
	}

	b.Put(s.recordKey(r.RequestID), raw)
	b.Put(s.statusKey(r), nil)

	return b.Write()
}

func (s *Store) List(_ context.Context, f journal.Filter) ([]*journal.Record, error) {
	var out []*journal.Record

	if len(f.Statuses) == 0 {
		iter := s.db.NewIterator(util.BytesPrefix(s.key(recordPrefix)), nil)
		defer iter.Release()

		for iter.Next() {
			var r journal.Record
			if err := json.Unmarshal(iter.Value(), &r); err != nil {
				s.logger.Warn("skipping undecodable record", "key", fmt.Sprintf("%x", iter.Key()), "err", err)

				continue
			}

			if f.Match(&r) {
				out = append(out, &r)
			}
		}

		if err := iter.Error(); err != nil {
			return nil, err
		}
	} else {
		for _, st := range f.Statuses {
			recs, err := s.listStatus(st, f)
			if err != nil {
				return nil, err
			}

			out = append(out, recs...)
		}
	}

	journal.SortRecords(out)

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	return out, nil
}

func (s *Store) listStatus(st journal.Status, f journal.Filter) ([]*journal.Record, error) {
	prefix := s.key(statusPrefix, []byte(st), []byte("/"))

	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []*journal.Record

	for iter.Next() {
		k := iter.Key()
		if len(k) != len(prefix)+8+len(types.RequestID{}) {
			continue
		}

		var id types.RequestID
		copy(id[:], k[len(prefix)+8:])

		r, err := s.get(id)
		if err != nil {
			return nil, err
		}

		if f.Match(r) {
			out = append(out, r)
		}
	}

	return out, iter.Error()
}

func (s *Store) Checkpoint(context.Context) (uint64, bool, error) {
	raw, err := s.db.Get(s.key(checkpointKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, err
	}

	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt checkpoint (%d bytes)", len(raw))
	}

	return binary.BigEndian.Uint64(raw), true, nil
}

func (s *Store) SetCheckpoint(_ context.Context, block uint64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], block)

	b := newBatch(s.db, s.sync)
	b.Put(s.key(checkpointKey), raw[:])

	return b.Write()
}

func (s *Store) Close() error {
	return s.db.Close()
}
