package transaction

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/ASHISH26940/helioscommit/internal/storage"
)

// Isolation is the isolation level of a transaction.
type Isolation int

const (
	IsolationSnapshot Isolation = iota
	IsolationSerializable
)

func (i Isolation) String() string {
	if i == IsolationSerializable {
		return "SERIALIZABLE"
	}
	return "SNAPSHOT"
}

func ParseIsolation(s string) (Isolation, error) {
	switch strings.ToUpper(s) {
	case "", "SNAPSHOT":
		return IsolationSnapshot, nil
	case "SERIALIZABLE":
		return IsolationSerializable, nil
	}
	return 0, errors.Errorf("unknown isolation level %q", s)
}

// Strategy is how a serializable transaction detects anti-dependencies.
type Strategy int

const (
	// StrategyExtraRead re-reads the read set and re-runs scans before the commit decision.
	StrategyExtraRead Strategy = iota
	// StrategyExtraWrite turns every read into a write so conflicts surface during prepare.
	StrategyExtraWrite
)

func (s Strategy) String() string {
	if s == StrategyExtraWrite {
		return "EXTRA_WRITE"
	}
	return "EXTRA_READ"
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToUpper(s) {
	case "", "EXTRA_READ":
		return StrategyExtraRead, nil
	case "EXTRA_WRITE":
		return StrategyExtraWrite, nil
	}
	return 0, errors.Errorf("unknown serializable strategy %q", s)
}

// Key identifies a record inside a snapshot.
type Key struct {
	Table  storage.TableRef
	record string
}

func newKey(table storage.TableRef, partition, clustering storage.Key) (Key, error) {
	enc, err := storage.EncodeRecordKey(partition, clustering)
	if err != nil {
		return Key{}, err
	}
	return Key{Table: table, record: string(enc)}, nil
}

type readEntry struct {
	partition  storage.Key
	clustering storage.Key
	// result is nil when the record was observed absent.
	result *TransactionResult
}

type writeEntry struct {
	key        Key
	partition  storage.Key
	clustering storage.Key
	values     storage.Columns
	delete     bool
	// replacesDelete is set when a put follows a delete of the same record. Columns the put
	// does not name are cleared.
	replacesDelete bool
}

type scanEntry struct {
	scan *storage.Scan
	// limit is the limit the storage scan actually ran with.
	limit int
	keys  []Key
}

// Snapshot is the read and write set of one transaction. It is used by one caller at a time.
type Snapshot struct {
	id        string
	isolation Isolation
	strategy  Strategy

	reads     map[Key]*readEntry
	readOrder []Key

	writes     map[Key]*writeEntry
	writeOrder []Key

	scans     map[string]*scanEntry
	scanOrder []string

	// prepared lists the records prepare actually wrote, for rollback.
	prepared []*writeEntry
}

func NewSnapshot(id string, isolation Isolation, strategy Strategy) *Snapshot {
	return &Snapshot{
		id:        id,
		isolation: isolation,
		strategy:  strategy,
		reads:     make(map[Key]*readEntry),
		writes:    make(map[Key]*writeEntry),
		scans:     make(map[string]*scanEntry),
	}
}

func (s *Snapshot) ID() string           { return s.id }
func (s *Snapshot) Isolation() Isolation { return s.isolation }
func (s *Snapshot) Strategy() Strategy   { return s.strategy }

func (s *Snapshot) serializableWith(strategy Strategy) bool {
	return s.isolation == IsolationSerializable && s.strategy == strategy
}

// read returns the record observed for k, if k was read.
func (s *Snapshot) read(k Key) (*readEntry, bool) {
	e, ok := s.reads[k]
	return e, ok
}

// putRead registers an observation. The first observation of a key is kept so that repeated
// reads are repeatable and validation compares against what the caller saw.
func (s *Snapshot) putRead(k Key, partition, clustering storage.Key, r *TransactionResult) *readEntry {
	if e, ok := s.reads[k]; ok {
		return e
	}
	e := &readEntry{partition: partition, clustering: clustering, result: r}
	s.reads[k] = e
	s.readOrder = append(s.readOrder, k)
	return e
}

func (s *Snapshot) scanned(scan *storage.Scan) (*scanEntry, bool) {
	e, ok := s.scans[scan.String()]
	return e, ok
}

func (s *Snapshot) putScan(scan *storage.Scan, limit int, keys []Key) {
	id := scan.String()
	if _, ok := s.scans[id]; ok {
		return
	}
	s.scans[id] = &scanEntry{scan: scan, limit: limit, keys: keys}
	s.scanOrder = append(s.scanOrder, id)
}

func (s *Snapshot) write(k Key) (*writeEntry, bool) {
	w, ok := s.writes[k]
	return w, ok
}

// putWrite buffers a write. Writes to the same key combine in program order: a delete replaces
// anything before it, a put after a delete replaces the delete, and puts merge their values.
func (s *Snapshot) putWrite(w *writeEntry) {
	existing, ok := s.writes[w.key]
	if !ok {
		s.writes[w.key] = w
		s.writeOrder = append(s.writeOrder, w.key)
		return
	}
	switch {
	case w.delete:
		existing.delete = true
		existing.values = nil
		existing.replacesDelete = false
	case existing.delete:
		existing.delete = false
		existing.values = w.values.Clone()
		existing.replacesDelete = true
	default:
		if existing.values == nil {
			existing.values = make(storage.Columns, len(w.values))
		}
		for name, v := range w.values {
			existing.values[name] = v
		}
	}
}

// writesIn returns the buffered writes to table whose encoded record key lies in [start, end).
// A nil end is unbounded.
func (s *Snapshot) writesIn(table storage.TableRef, start, end []byte) []*writeEntry {
	var out []*writeEntry
	for _, k := range s.writeOrder {
		if k.Table != table || k.record < string(start) || (end != nil && k.record >= string(end)) {
			continue
		}
		out = append(out, s.writes[k])
	}
	return out
}

// writeSet returns the buffered writes in program order.
func (s *Snapshot) writeSet() []*writeEntry {
	out := make([]*writeEntry, 0, len(s.writeOrder))
	for _, k := range s.writeOrder {
		out = append(out, s.writes[k])
	}
	return out
}

// merged returns the image of k as this transaction sees it: base overlaid with the buffered
// write. ok is false when the record is absent.
func (s *Snapshot) merged(k Key, base *TransactionResult) (storage.Columns, bool) {
	w, hasWrite := s.writes[k]
	if !hasWrite {
		if base == nil {
			return nil, false
		}
		return base.columns, true
	}
	if w.delete {
		return nil, false
	}
	var cols storage.Columns
	if base != nil && !w.replacesDelete {
		cols = base.Encode()
	} else {
		cols = make(storage.Columns, len(w.values)+len(w.partition)+len(w.clustering))
	}
	for _, c := range w.partition {
		cols[c.Name] = c.Value
	}
	for _, c := range w.clustering {
		cols[c.Name] = c.Value
	}
	for name, v := range w.values {
		cols[name] = v
	}
	return cols, true
}

// toSerializableWithExtraWrite turns every read that is not also written into a write of the
// same record: a put without values for a record that exists, a delete for one observed
// absent. The prepare of those writes fails if another transaction changed the record.
func (s *Snapshot) toSerializableWithExtraWrite() {
	for _, k := range s.readOrder {
		if _, ok := s.writes[k]; ok {
			continue
		}
		e := s.reads[k]
		w := &writeEntry{key: k, partition: e.partition, clustering: e.clustering}
		if e.result == nil {
			w.delete = true
		} else {
			w.values = storage.Columns{}
		}
		s.putWrite(w)
	}
}

// validationSet returns the reads that are not also written, and every scan, for re-reading.
func (s *Snapshot) validationSet() (reads []Key, scans []*scanEntry) {
	for _, k := range s.readOrder {
		if _, ok := s.writes[k]; !ok {
			reads = append(reads, k)
		}
	}
	for _, id := range s.scanOrder {
		scans = append(scans, s.scans[id])
	}
	return reads, scans
}
