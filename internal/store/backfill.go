package store

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// SaveBackfillJob writes the job record.
func (s *Store) SaveBackfillJob(ctx context.Context, job *models.BackfillJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode backfill job")
	}
	if err := s.client.HSet(ctx, backfillKey(job.ID), dataField, data).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to save backfill job")
	}
	return nil
}

// GetBackfillJob loads one job. A missing record is a not_found error.
func (s *Store) GetBackfillJob(ctx context.Context, id string) (*models.BackfillJob, error) {
	data, err := s.client.HGet(ctx, backfillKey(id), dataField).Bytes()
	if err == redis.Nil {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "backfill job %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load backfill job")
	}

	var job models.BackfillJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode backfill job "+id)
	}
	return &job, nil
}
