package boltdb

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Itr holds a read-only bolt transaction open until Close is called.
type Itr struct {
	tx      *bolt.Tx
	cursor  *bolt.Cursor
	decoder DecodeFn
	key     []byte
	value   []byte
}

func newIterator(db *bolt.DB, bucket []byte, d DecodeFn) *Itr {
	it := &Itr{decoder: d}
	tx, err := db.Begin(false)
	if err != nil {
		return it
	}
	b := tx.Bucket(bucket)
	if b == nil {
		_ = tx.Rollback()
		return it
	}
	it.tx = tx
	it.cursor = b.Cursor()
	return it
}

func (it *Itr) first() {
	if it.cursor != nil {
		it.key, it.value = it.cursor.First()
	}
}

func (it *Itr) seek(key []byte) {
	if it.cursor != nil {
		it.key, it.value = it.cursor.Seek(key)
	}
}

func (it *Itr) Next() {
	if !it.Valid() {
		return
	}
	it.key, it.value = it.cursor.Next()
}

func (it *Itr) Valid() bool {
	return it.cursor != nil && it.key != nil
}

func (it *Itr) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.key
}

func (it *Itr) Value(v any) error {
	if !it.Valid() {
		return fmt.Errorf("iterator invalid")
	}
	return it.decoder(it.value, v)
}

func (it *Itr) Close() error {
	if it.tx == nil {
		return nil
	}
	tx := it.tx
	it.tx, it.cursor, it.key, it.value = nil, nil, nil, nil
	return tx.Rollback()
}
