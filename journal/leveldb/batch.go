package leveldb

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// batch groups the writes of one record update.
type batch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	sync bool
}

func newBatch(db *leveldb.DB, sync bool) *batch {
	return &batch{
		db:   db,
		b:    new(leveldb.Batch),
		sync: sync,
	}
}

func (b *batch) Delete(key []byte) {
	b.b.Delete(key)
}

func (b *batch) Put(k []byte, v []byte) {
	b.b.Put(k, v)
}

func (b *batch) Write() error {
	return b.db.Write(b.b, &opt.WriteOptions{Sync: b.sync})
}
