// Package history keeps finished run summaries in a bbolt file.
package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"stampede/internal/metrics"
	"stampede/internal/report"
	"stampede/internal/threshold"
)

const bucketRuns = "runs"

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Record is the stored summary of one run.
type Record struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name,omitempty"`
	State              string             `json:"state"`
	Started            time.Time          `json:"started"`
	Finished           time.Time          `json:"finished"`
	Duration           time.Duration      `json:"duration"`
	PeakVUs            int                `json:"peak_vus"`
	Iterations         int64              `json:"iterations"`
	Requests           int64              `json:"requests"`
	ErrorRate          float64            `json:"error_rate"`
	P95                time.Duration      `json:"p95"`
	Passed             bool               `json:"passed"`
	AbortedByThreshold bool               `json:"aborted_by_threshold"`
	Thresholds         []threshold.Result `json:"thresholds,omitempty"`
}

// NewRecord condenses a summary into a Record. Only a completed run with a
// passing verdict is recorded as passed.
func NewRecord(s *report.Summary) Record {
	rec := Record{
		ID:                 s.RunID,
		Name:               s.Name,
		State:              s.State,
		Started:            s.Started,
		Finished:           s.Finished,
		PeakVUs:            s.PeakVUs,
		AbortedByThreshold: s.AbortedByThreshold,
		Passed:             s.State == "completed" && s.Verdict != nil && s.Verdict.Passed,
	}
	if s.Verdict != nil {
		rec.Thresholds = s.Verdict.Results
	}
	if snap := s.Snapshot; snap != nil {
		rec.Duration = snap.Duration
		if m, ok := snap.Get(metrics.Iterations); ok {
			rec.Iterations = m.Count
		}
		if m, ok := snap.Get(metrics.HTTPReqs); ok {
			rec.Requests = m.Count
		}
		if m, ok := snap.Get(metrics.Errors); ok {
			rec.ErrorRate = m.Rate()
		}
		if m, ok := snap.Get(metrics.HTTPReqDuration); ok && m.Trend != nil {
			rec.P95 = m.Trend.Quantile(95)
		}
	}
	return rec
}

// Store is a bbolt-backed run history. Records are kept in insertion order.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history file at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save appends rec.
func (s *Store) Save(rec Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// List returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) List(limit int) ([]Record, error) {
	var records []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) == limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Get returns the record with the given run ID.
func (s *Store) Get(id string) (*Record, error) {
	var found *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.ID == id {
				found = &rec
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return found, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
