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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/DylanSoren/QualityControl/services/qualitycontrol/graph"
)

// Key layout. Ids are zero-padded so prefix iteration returns them in
// numeric order.
const (
	factorPrefix = "qc/factor/"
	defectPrefix = "qc/defect/"
	nextIDKey    = "qc/meta/next_id"
)

func factorKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", factorPrefix, id))
}

func defectKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", defectPrefix, id))
}

// GraphBackend implements graph.Backend on top of a DB.
type GraphBackend struct {
	db *DB
}

// NewGraphBackend returns a backend storing the graph in db.
func NewGraphBackend(db *DB) *GraphBackend {
	return &GraphBackend{db: db}
}

var _ graph.Backend = (*GraphBackend)(nil)

// Load reads every persisted node and the id high-water mark.
func (b *GraphBackend) Load(ctx context.Context) (*graph.Image, error) {
	img := &graph.Image{}
	err := b.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		if err := scanPrefix(txn, factorPrefix, func(v []byte) error {
			var rec graph.FactorRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode factor: %w", err)
			}
			img.Factors = append(img.Factors, rec)
			return nil
		}); err != nil {
			return err
		}

		if err := scanPrefix(txn, defectPrefix, func(v []byte) error {
			var rec graph.DefectRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode defect: %w", err)
			}
			img.Defects = append(img.Defects, rec)
			return nil
		}); err != nil {
			return err
		}

		item, err := txn.Get([]byte(nextIDKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read next id: %w", err)
		}
		return item.Value(func(v []byte) error {
			n, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return fmt.Errorf("decode next id: %w", err)
			}
			img.NextID = n
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Apply writes m in a single transaction.
func (b *GraphBackend) Apply(ctx context.Context, m graph.Mutation) error {
	return b.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if m.Reset {
			for _, prefix := range []string{factorPrefix, defectPrefix} {
				keys, err := collectKeys(txn, prefix)
				if err != nil {
					return err
				}
				for _, k := range keys {
					if err := txn.Delete(k); err != nil {
						return fmt.Errorf("reset %s: %w", k, err)
					}
				}
			}
		}

		for _, id := range m.DeleteFactors {
			if err := txn.Delete(factorKey(id)); err != nil {
				return fmt.Errorf("delete factor %d: %w", id, err)
			}
		}
		for _, id := range m.DeleteDefects {
			if err := txn.Delete(defectKey(id)); err != nil {
				return fmt.Errorf("delete defect %d: %w", id, err)
			}
		}

		for _, f := range m.PutFactors {
			v, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("encode factor %d: %w", f.ID, err)
			}
			if err := txn.Set(factorKey(f.ID), v); err != nil {
				return fmt.Errorf("put factor %d: %w", f.ID, err)
			}
		}
		for _, d := range m.PutDefects {
			v, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("encode defect %d: %w", d.ID, err)
			}
			if err := txn.Set(defectKey(d.ID), v); err != nil {
				return fmt.Errorf("put defect %d: %w", d.ID, err)
			}
		}

		return txn.Set([]byte(nextIDKey), []byte(strconv.FormatInt(m.NextID, 10)))
	})
}

func scanPrefix(txn *badger.Txn, prefix string, fn func(v []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func collectKeys(txn *badger.Txn, prefix string) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}
