// Package progress keeps attempts and the results log in Redis, for
// deployments where several app instances share student progress.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/textchamp/textchamp/internal/model"
)

const keyPrefix = "textchamp:"

// Store implements the attempt repository on Redis.
//
// Layout:
//
//	textchamp:attempt:<id>                      attempt JSON
//	textchamp:slot:<student>:<section>:<ex>     sorted set of attempt IDs by last save
//	textchamp:recent:<student>                  list of attempt IDs, newest first, at most 5
//	textchamp:practice:<student>:<practice>     set of attempt IDs in a full-practice run
//	textchamp:results                           append-only list of result JSON
//	textchamp:results:seq                       result ID counter
type Store struct {
	client *redis.Client
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("connected to redis", "addr", addr, "db", db)
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func attemptKey(id string) string {
	return keyPrefix + "attempt:" + id
}

func slotKey(k model.AttemptKey) string {
	return fmt.Sprintf("%sslot:%d:%s:%d", keyPrefix, k.StudentID, k.Section, k.ExerciseID)
}

func recentKey(studentID int64) string {
	return keyPrefix + "recent:" + strconv.FormatInt(studentID, 10)
}

func practiceKey(studentID int64, practiceID string) string {
	return fmt.Sprintf("%spractice:%d:%s", keyPrefix, studentID, practiceID)
}

const (
	resultsKey    = keyPrefix + "results"
	resultsSeqKey = keyPrefix + "results:seq"
)

// maxSaveRetries bounds optimistic-lock retries when another instance writes
// the same attempt concurrently.
const maxSaveRetries = 5

// SaveAttempt writes an attempt and updates its indexes. The attempt key is
// watched so a completed attempt is never overwritten, even by another app
// instance; such writes fail with model.ErrAttemptCompleted.
func (s *Store) SaveAttempt(ctx context.Context, a model.PracticeAttempt) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	key := attemptKey(a.ID)
	recent := recentKey(a.StudentID)

	write := func(tx *redis.Tx) error {
		prev, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var stored struct {
				Status model.AttemptStatus `json:"status"`
			}
			if json.Unmarshal(prev, &stored) == nil && stored.Status == model.AttemptCompleted {
				return model.ErrAttemptCompleted
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, slotKey(a.Key()), redis.Z{Score: float64(a.LastSaved.UnixNano()), Member: a.ID})
			pipe.LRem(ctx, recent, 0, a.ID)
			pipe.LPush(ctx, recent, a.ID)
			pipe.LTrim(ctx, recent, 0, model.MaxRecentAttempts-1)
			if a.PracticeID != "" {
				pipe.SAdd(ctx, practiceKey(a.StudentID, a.PracticeID), a.ID)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxSaveRetries; i++ {
		err = s.client.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	return nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, id string) (model.PracticeAttempt, error) {
	data, err := s.client.Get(ctx, attemptKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.PracticeAttempt{}, model.ErrNotFound
	}
	if err != nil {
		return model.PracticeAttempt{}, fmt.Errorf("get attempt %s: %w", id, err)
	}
	var a model.PracticeAttempt
	if err := json.Unmarshal(data, &a); err != nil {
		return model.PracticeAttempt{}, fmt.Errorf("decode attempt %s: %w", id, err)
	}
	return a, nil
}

// LoadAttempts returns every attempt stored for a slot, newest first.
func (s *Store) LoadAttempts(ctx context.Context, key model.AttemptKey) ([]model.PracticeAttempt, error) {
	ids, err := s.client.ZRevRange(ctx, slotKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	return s.getMany(ctx, ids)
}

// ListRecentAttempts returns a student's most recently saved attempts, at most
// model.MaxRecentAttempts.
func (s *Store) ListRecentAttempts(ctx context.Context, studentID int64, limit int) ([]model.PracticeAttempt, error) {
	if limit <= 0 || limit > model.MaxRecentAttempts {
		limit = model.MaxRecentAttempts
	}
	ids, err := s.client.LRange(ctx, recentKey(studentID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	return s.getMany(ctx, ids)
}

// ListPracticeAttempts returns the attempts of one full-practice run, oldest first.
func (s *Store) ListPracticeAttempts(ctx context.Context, studentID int64, practiceID string) ([]model.PracticeAttempt, error) {
	ids, err := s.client.SMembers(ctx, practiceKey(studentID, practiceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list practice: %w", err)
	}
	attempts, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].StartedAt.Before(attempts[j].StartedAt) })
	return attempts, nil
}

// AppendResult adds a completed practice to the results log. No deduplication
// is performed.
func (s *Store) AppendResult(ctx context.Context, r model.PracticeResult) error {
	id, err := s.client.Incr(ctx, resultsSeqKey).Result()
	if err != nil {
		return fmt.Errorf("next result id: %w", err)
	}
	r.ID = id
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.client.RPush(ctx, resultsKey, data).Err()
}

// ListResults returns the results log in insertion order. A zero studentID
// lists every student's results.
func (s *Store) ListResults(ctx context.Context, studentID int64) ([]model.PracticeResult, error) {
	raw, err := s.client.LRange(ctx, resultsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	var out []model.PracticeResult
	for _, item := range raw {
		var r model.PracticeResult
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		if studentID == 0 || r.StudentID == studentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// getMany loads attempts in the order of ids, skipping IDs whose attempt has
// disappeared or cannot be decoded.
func (s *Store) getMany(ctx context.Context, ids []string) ([]model.PracticeAttempt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = attemptKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get attempts: %w", err)
	}
	out := make([]model.PracticeAttempt, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var a model.PracticeAttempt
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			slog.Warn("skipping unreadable attempt", "attempt", ids[i], "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
