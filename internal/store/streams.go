package store

import (
	"context"
	"sort"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/models"
)

// SaveStream writes the stream record and adds it to the team and global
// indexes in one transaction.
func (s *Store) SaveStream(ctx context.Context, stream *models.DataStream) error {
	data, err := json.Marshal(stream)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode stream")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, streamKey(stream.ID), dataField, data)
		pipe.SAdd(ctx, teamKey(stream.TeamID), stream.ID)
		pipe.SAdd(ctx, allStreamsKey, stream.ID)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to save stream")
	}
	return nil
}

// GetStream loads one stream. A missing record is a not_found error.
func (s *Store) GetStream(ctx context.Context, id string) (*models.DataStream, error) {
	data, err := s.client.HGet(ctx, streamKey(id), dataField).Bytes()
	if err == redis.Nil {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "stream %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load stream")
	}

	var stream models.DataStream
	if err := json.Unmarshal(data, &stream); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode stream "+id)
	}
	return &stream, nil
}

const maxUpdateAttempts = 5

// UpdateStream applies fn to the stored stream and saves the result with an
// optimistic WATCH transaction. fn is called again on the fresh record when
// another writer saved the stream in between; returning false skips the
// write. It reports whether the stream was saved.
func (s *Store) UpdateStream(ctx context.Context, id string, fn func(*models.DataStream) bool) (bool, error) {
	key := streamKey(id)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		saved := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.HGet(ctx, key, dataField).Bytes()
			if err == redis.Nil {
				return errors.Newf(errors.ErrorTypeNotFound, "stream %s not found", id)
			}
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeConnection, "failed to load stream")
			}

			var stream models.DataStream
			if err := json.Unmarshal(data, &stream); err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to decode stream "+id)
			}
			if !fn(&stream) {
				return nil
			}

			updated, err := json.Marshal(&stream)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "failed to encode stream")
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, dataField, updated)
				return nil
			})
			if err == nil {
				saved = true
			}
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			var typed *errors.Error
			if errors.As(err, &typed) {
				return false, err
			}
			return false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to update stream")
		}
		return saved, nil
	}
	return false, errors.Newf(errors.ErrorTypeConflict, "stream %s changed concurrently", id)
}

// TeamStreamIDs returns the ids in the team index, including deleted
// streams.
func (s *Store) TeamStreamIDs(ctx context.Context, teamID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, teamKey(teamID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read team index")
	}
	return ids, nil
}

// AllStreamIDs returns every stream id ever saved.
func (s *Store) AllStreamIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, allStreamsKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read stream index")
	}
	return ids, nil
}

// ListTeamStreams returns the team's streams that are not deleted, oldest
// first.
func (s *Store) ListTeamStreams(ctx context.Context, teamID string) ([]*models.DataStream, error) {
	ids, err := s.TeamStreamIDs(ctx, teamID)
	if err != nil {
		return nil, err
	}

	streams := make([]*models.DataStream, 0, len(ids))
	for _, id := range ids {
		stream, err := s.GetStream(ctx, id)
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if stream.Status == models.StreamStatusDeleted {
			continue
		}
		streams = append(streams, stream)
	}

	sort.Slice(streams, func(i, j int) bool {
		if streams[i].CreatedAt.Equal(streams[j].CreatedAt) {
			return streams[i].ID < streams[j].ID
		}
		return streams[i].CreatedAt.Before(streams[j].CreatedAt)
	})
	return streams, nil
}
