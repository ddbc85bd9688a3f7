package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// PredictionRecord is one served prediction.
type PredictionRecord struct {
	RequestID  string          `json:"request_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Policy     string          `json:"policy"`
	Input      json.RawMessage `json:"input,omitempty"`
	Prediction int             `json:"prediction"`
	Label      string          `json:"label,omitempty"`
	LatencyMs  float64         `json:"latency_ms"`
}

func recordKey(record PredictionRecord) []byte {
	return []byte(fmt.Sprintf("%s_%s", timeKey(record.Timestamp), record.RequestID))
}

// SavePrediction stores a prediction record. A zero timestamp is replaced by
// the current time.
func (s *Store) SavePrediction(record PredictionRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal prediction record: %w", err)
		}

		return b.Put(recordKey(record), data)
	})
}

// RecentPredictions returns up to limit records, newest first.
func (s *Store) RecentPredictions(limit int) ([]PredictionRecord, error) {
	records := make([]PredictionRecord, 0)
	if limit <= 0 {
		return records, nil
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()

		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var record PredictionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}

// PredictionsInRange returns the records stored between start and end,
// inclusive, oldest first.
func (s *Store) PredictionsInRange(start, end time.Time) ([]PredictionRecord, error) {
	var records []PredictionRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()

		startKey := timeKey(start)
		// Keys carry a request id suffix, so bound by the next nanosecond.
		endKey := timeKey(end.Add(time.Nanosecond))

		for k, v := c.Seek(startKey); k != nil && compareKeys(k, endKey) < 0; k, v = c.Next() {
			var record PredictionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}
