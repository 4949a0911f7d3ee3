// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/resgraph/services/resources/storage"
)

var (
	nodePrefix  = []byte("node/")
	childPrefix = []byte("child/")
)

func nodeKey(id uint64) []byte {
	key := make([]byte, len(nodePrefix)+8)
	copy(key, nodePrefix)
	binary.BigEndian.PutUint64(key[len(nodePrefix):], id)
	return key
}

func childScanPrefix(parent uint64) []byte {
	key := make([]byte, len(childPrefix)+8)
	copy(key, childPrefix)
	binary.BigEndian.PutUint64(key[len(childPrefix):], parent)
	return key
}

func childKey(parent uint64, name string) []byte {
	return append(childScanPrefix(parent), name...)
}

// Backend implements storage.Backend and storage.Batcher on BadgerDB.
//
// # Description
//
// Each record is stored once under its node key plus an index entry under
// its parent. ApplyBatch writes a whole journal batch in one transaction.
//
// # Thread Safety
//
// Backend is safe for concurrent use; BadgerDB serializes conflicting
// transactions.
type Backend struct {
	db    *badger.DB
	owned bool
}

// NewBackend wraps an open database. Close does not close db.
func NewBackend(db *badger.DB) *Backend {
	return &Backend{db: db}
}

// OpenBackend opens a database from cfg and wraps it. Close closes the
// database.
func OpenBackend(cfg Config) (*Backend, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Backend{db: db, owned: true}, nil
}

// DB returns the underlying database.
func (b *Backend) DB() *badger.DB { return b.db }

func (b *Backend) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return b.db.Update(fn)
}

func (b *Backend) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return b.db.View(fn)
}

func getRecord(txn *badger.Txn, id uint64) (storage.Record, error) {
	var rec storage.Record
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, storage.ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func putRecord(txn *badger.Txn, rec storage.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", rec.ID, err)
	}
	return txn.Set(nodeKey(rec.ID), data)
}

func putNode(txn *badger.Txn, rec storage.Record) error {
	old, err := getRecord(txn, rec.ID)
	switch {
	case err == nil:
		if old.Parent != rec.Parent || old.Name != rec.Name {
			if err := txn.Delete(childKey(old.Parent, old.Name)); err != nil {
				return err
			}
		}
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	if err := putRecord(txn, rec); err != nil {
		return err
	}
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], rec.ID)
	return txn.Set(childKey(rec.Parent, rec.Name), id[:])
}

func deleteNode(txn *badger.Txn, id uint64) error {
	old, err := getRecord(txn, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := txn.Delete(childKey(old.Parent, old.Name)); err != nil {
		return err
	}
	return txn.Delete(nodeKey(id))
}

func modify(txn *badger.Txn, id uint64, fn func(*storage.Record)) error {
	rec, err := getRecord(txn, id)
	if err != nil {
		return err
	}
	fn(&rec)
	return putRecord(txn, rec)
}

func applyOp(txn *badger.Txn, op storage.Op) error {
	switch op.Kind {
	case storage.OpPut:
		return putNode(txn, op.Record)
	case storage.OpDelete:
		return deleteNode(txn, op.ID)
	case storage.OpSetValue:
		return modify(txn, op.ID, func(r *storage.Record) {
			r.Value = op.Value
			r.Modified = op.Modified
		})
	case storage.OpSetActive:
		return modify(txn, op.ID, func(r *storage.Record) { r.Active = op.Active })
	}
	return fmt.Errorf("unknown op kind %d", op.Kind)
}

func (b *Backend) PutNode(ctx context.Context, rec storage.Record) error {
	return b.update(ctx, func(txn *badger.Txn) error { return putNode(txn, rec) })
}

func (b *Backend) DeleteNode(ctx context.Context, id uint64) error {
	return b.update(ctx, func(txn *badger.Txn) error { return deleteNode(txn, id) })
}

func (b *Backend) SetValue(ctx context.Context, id uint64, value json.RawMessage, modified int64) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		return applyOp(txn, storage.SetValue(id, value, modified))
	})
}

func (b *Backend) SetActive(ctx context.Context, id uint64, active bool) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		return applyOp(txn, storage.SetActive(id, active))
	})
}

// ApplyBatch applies ops in order inside one transaction. Batches larger
// than one transaction allows are split.
func (b *Backend) ApplyBatch(ctx context.Context, ops []storage.Op) error {
	for len(ops) > 0 {
		n := 0
		err := b.update(ctx, func(txn *badger.Txn) error {
			for _, op := range ops {
				err := applyOp(txn, op)
				if errors.Is(err, badger.ErrTxnTooBig) {
					return err
				}
				if err != nil {
					return fmt.Errorf("%s %d: %w", op.Kind, op.ID, err)
				}
				n++
			}
			return nil
		})
		if errors.Is(err, badger.ErrTxnTooBig) && n > 0 {
			// The failed transaction was discarded; retry the applied prefix
			// on its own before continuing.
			if err := b.ApplyBatch(ctx, ops[:n]); err != nil {
				return err
			}
			ops = ops[n:]
			continue
		}
		if err != nil {
			return err
		}
		ops = nil
	}
	return nil
}

func (b *Backend) Node(ctx context.Context, id uint64) (storage.Record, error) {
	var rec storage.Record
	err := b.view(ctx, func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

func (b *Backend) Children(ctx context.Context, parent uint64) ([]storage.Record, error) {
	var out []storage.Record
	err := b.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = childScanPrefix(parent)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var id uint64
			if err := it.Item().Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("corrupt child index %q", it.Item().Key())
				}
				id = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
			rec, err := getRecord(txn, id)
			if err != nil {
				return fmt.Errorf("child %d of %d: %w", id, parent, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByID(out)
	return out, nil
}

func (b *Backend) Roots(ctx context.Context) ([]storage.Record, error) {
	return b.Children(ctx, 0)
}

// Close closes the database when the backend opened it.
func (b *Backend) Close() error {
	if b.owned {
		return b.db.Close()
	}
	return nil
}

func sortByID(recs []storage.Record) {
	slices.SortFunc(recs, func(a, b storage.Record) int { return cmp.Compare(a.ID, b.ID) })
}
