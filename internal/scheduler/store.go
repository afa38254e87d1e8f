package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	jobsBucket    = []byte("jobs")
	historyBucket = []byte("history")
)

// Store persists jobs and their execution history in a bbolt database, so
// scheduled work survives a process restart.
type Store struct {
	db *bolt.DB
}

// OpenStore opens or creates the bbolt database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open scheduler store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(jobsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize scheduler buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SaveJob upserts a job by ID.
func (s *Store) SaveJob(job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Put([]byte(job.ID), data)
	})
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Delete([]byte(id))
	})
}

// LoadJobs returns every persisted job.
func (s *Store) LoadJobs() ([]Job, error) {
	var jobs []Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(_, v []byte) error {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to unmarshal job: %w", err)
			}
			jobs = append(jobs, job)
			return nil
		})
	})
	return jobs, err
}

// AppendExecution records one run in a job's history, keyed by start time
// so ForEach iteration returns executions in chronological order.
func (s *Store) AppendExecution(exec Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	key := []byte(fmt.Sprintf("%s/%d", exec.JobID, exec.Start.UnixNano()))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).Put(key, data)
	})
}

// History returns every recorded execution for jobID.
func (s *Store) History(jobID string) ([]Execution, error) {
	var out []Execution
	prefix := []byte(jobID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(historyBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var exec Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return fmt.Errorf("failed to unmarshal execution: %w", err)
			}
			out = append(out, exec)
		}
		return nil
	})
	return out, err
}

// AllHistorySince returns every recorded execution across all jobs with
// Start at or after since, used by the daily-report builtin.
func (s *Store) AllHistorySince(since time.Time) ([]Execution, error) {
	var out []Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(historyBucket).ForEach(func(_, v []byte) error {
			var exec Execution
			if err := json.Unmarshal(v, &exec); err != nil {
				return fmt.Errorf("failed to unmarshal execution: %w", err)
			}
			if !exec.Start.Before(since) {
				out = append(out, exec)
			}
			return nil
		})
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
