package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

var metadataBucket = []byte("__metadata")

// BoltStorage is a storage.Storage and storage.Admin kept in a single bolt file. Each table is a
// bucket mapping the encoded record key to the JSON row. Every operation runs in one bolt
// transaction, so a condition and the write it guards are atomic, and so is a Mutate batch.
type BoltStorage struct {
	db *bolt.DB
}

var (
	_ storage.Storage = (*BoltStorage)(nil)
	_ storage.Admin   = (*BoltStorage)(nil)
)

// OpenBolt opens or creates the bolt file at path.
func OpenBolt(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt file %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metadataBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create metadata bucket")
	}
	return &BoltStorage{db: db}, nil
}

func (b *BoltStorage) Close() error { return b.db.Close() }

func tableBucket(ref storage.TableRef) []byte { return []byte("t/" + ref.String()) }

func (b *BoltStorage) CreateTable(ctx context.Context, ref storage.TableRef, md *storage.TableMetadata) error {
	if err := md.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metadataBucket)
		if meta.Get([]byte(ref.String())) != nil {
			return errors.Wrapf(storage.ErrIllegalArgument, "table %s already exists", ref)
		}
		if _, err := tx.CreateBucketIfNotExists(tableBucket(ref)); err != nil {
			return err
		}
		return meta.Put([]byte(ref.String()), data)
	})
}

func (b *BoltStorage) TableMetadata(ctx context.Context, ref storage.TableRef) (*storage.TableMetadata, error) {
	var md *storage.TableMetadata
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		md, err = readMetadata(tx, ref)
		return err
	})
	return md, err
}

func (b *BoltStorage) DropTable(ctx context.Context, ref storage.TableRef) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metadataBucket)
		if meta.Get([]byte(ref.String())) == nil {
			return errors.Wrapf(storage.ErrTableNotFound, "%s", ref)
		}
		if err := tx.DeleteBucket(tableBucket(ref)); err != nil {
			return err
		}
		return meta.Delete([]byte(ref.String()))
	})
}

func readMetadata(tx *bolt.Tx, ref storage.TableRef) (*storage.TableMetadata, error) {
	data := tx.Bucket(metadataBucket).Get([]byte(ref.String()))
	if data == nil {
		return nil, nil
	}
	var md storage.TableMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, errors.Wrapf(err, "decode metadata of %s", ref)
	}
	return &md, nil
}

// openTable returns the metadata and bucket of ref inside tx.
func openTable(tx *bolt.Tx, ref storage.TableRef) (*storage.TableMetadata, *bolt.Bucket, error) {
	md, err := readMetadata(tx, ref)
	if err != nil {
		return nil, nil, err
	}
	bucket := tx.Bucket(tableBucket(ref))
	if md == nil || bucket == nil {
		return nil, nil, errors.Wrapf(storage.ErrTableNotFound, "%s", ref)
	}
	return md, bucket, nil
}

func decodeRow(data []byte) (storage.Columns, error) {
	if data == nil {
		return nil, nil
	}
	var row storage.Columns
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, errors.Wrap(err, "decode row")
	}
	return row, nil
}

func (b *BoltStorage) Get(ctx context.Context, get *storage.Get) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if get.Index != nil {
		scan, err := get.IndexScan()
		if err != nil {
			return nil, err
		}
		records, err := b.Scan(ctx, scan)
		if err != nil {
			return nil, err
		}
		return storage.SingleRecord(get, records)
	}
	var rec *storage.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		md, bucket, err := openTable(tx, get.Table)
		if err != nil {
			return err
		}
		if err := md.CheckRecordKey(get.Partition, get.Clustering); err != nil {
			return err
		}
		key, err := storage.EncodeRecordKey(get.Partition, get.Clustering)
		if err != nil {
			return err
		}
		row, err := decodeRow(bucket.Get(key))
		if err != nil || row == nil {
			return err
		}
		rec = &storage.Record{Values: storage.Project(row, get.Projections)}
		return nil
	})
	return rec, err
}

func (b *BoltStorage) Scan(ctx context.Context, scan *storage.Scan) ([]*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []*storage.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		md, bucket, err := openTable(tx, scan.Table)
		if err != nil {
			return err
		}
		if err := md.CheckScan(scan); err != nil {
			return err
		}
		start, end, err := storage.ScanRange(scan)
		if err != nil {
			return err
		}
		c := bucket.Cursor()
		var k, v []byte
		if start == nil {
			k, v = c.First()
		} else {
			k, v = c.Seek(start)
		}
		for ; k != nil; k, v = c.Next() {
			if end != nil && bytes.Compare(k, end) >= 0 {
				break
			}
			row, err := decodeRow(v)
			if err != nil {
				return err
			}
			if scan.Index != nil && !storage.MatchesIndex(row, scan.Index) {
				continue
			}
			records = append(records, &storage.Record{Values: row})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return storage.Finish(scan, records), nil
}

func (b *BoltStorage) Put(ctx context.Context, put *storage.Put) error {
	return b.Mutate(ctx, []storage.Mutation{put})
}

func (b *BoltStorage) Delete(ctx context.Context, del *storage.Delete) error {
	return b.Mutate(ctx, []storage.Mutation{del})
}

// Mutate applies the batch inside one bolt update transaction. Returning an error from the
// transaction function rolls every earlier mutation of the batch back.
func (b *BoltStorage) Mutate(ctx context.Context, mutations []storage.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		locate := func(m storage.Mutation) (*storage.TableMetadata, *bolt.Bucket, []byte, storage.Columns, error) {
			md, bucket, err := openTable(tx, m.TableRef())
			if err != nil {
				return nil, nil, nil, nil, err
			}
			if err := md.CheckRecordKey(m.PartitionKey(), m.ClusteringKey()); err != nil {
				return nil, nil, nil, nil, err
			}
			key, err := storage.EncodeRecordKey(m.PartitionKey(), m.ClusteringKey())
			if err != nil {
				return nil, nil, nil, nil, err
			}
			existing, err := decodeRow(bucket.Get(key))
			return md, bucket, key, existing, err
		}
		return storage.Each(mutations,
			func(p *storage.Put) error {
				md, bucket, key, existing, err := locate(p)
				if err != nil {
					return err
				}
				row, err := storage.ApplyPut(md, existing, p)
				if err != nil {
					return err
				}
				data, err := json.Marshal(row)
				if err != nil {
					return err
				}
				return bucket.Put(key, data)
			},
			func(d *storage.Delete) error {
				_, bucket, key, existing, err := locate(d)
				if err != nil {
					return err
				}
				if err := storage.CheckDelete(existing, d); err != nil {
					return err
				}
				if existing == nil {
					return nil
				}
				return bucket.Delete(key)
			})
	})
}
