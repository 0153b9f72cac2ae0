package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// NewRedis connects using a redis:// URL and pings the server.
func NewRedis(ctx context.Context, url string) (*goredis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is empty")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := goredis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// PlanStore caches rendered daily plans per patient. Invalidation bumps a
// per-patient generation number instead of deleting keys; stale entries
// simply expire.
type PlanStore struct {
	rdb    *goredis.Client
	ttl    time.Duration
	prefix string
}

func NewPlanStore(rdb *goredis.Client, ttl time.Duration) *PlanStore {
	return &PlanStore{rdb: rdb, ttl: ttl, prefix: "clinical-engine"}
}

func (s *PlanStore) genKey(patientID uuid.UUID) string {
	return generationKey(s.prefix, patientID)
}

func generationKey(prefix string, patientID uuid.UUID) string {
	return fmt.Sprintf("%s:plan-gen:%s", prefix, patientID)
}

func planKey(prefix string, patientID uuid.UUID, gen int64, window string) string {
	return fmt.Sprintf("%s:plan:%s:%d:%s", prefix, patientID, gen, window)
}

func (s *PlanStore) generation(ctx context.Context, patientID uuid.UUID) (int64, error) {
	gen, err := s.rdb.Get(ctx, s.genKey(patientID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get loads the cached plan for (patient, window) into dst. The boolean is
// false on a miss. The returned generation is the one a plan built after
// this call must be stored under.
func (s *PlanStore) Get(ctx context.Context, patientID uuid.UUID, window string, dst any) (int64, bool, error) {
	gen, err := s.generation(ctx, patientID)
	if err != nil {
		return 0, false, fmt.Errorf("read plan generation: %w", err)
	}
	raw, err := s.rdb.Get(ctx, planKey(s.prefix, patientID, gen, window)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return gen, false, nil
	}
	if err != nil {
		return gen, false, fmt.Errorf("read cached plan: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return gen, false, fmt.Errorf("decode cached plan: %w", err)
	}
	return gen, true, nil
}

// Put stores v under the generation returned by the Get that preceded the
// load. If the patient was invalidated in between, the entry lands under a
// generation nobody reads any more and expires.
func (s *PlanStore) Put(ctx context.Context, patientID uuid.UUID, gen int64, window string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return s.rdb.Set(ctx, planKey(s.prefix, patientID, gen, window), raw, s.ttl).Err()
}

// Invalidate makes every cached plan of the patient unreachable.
func (s *PlanStore) Invalidate(ctx context.Context, patientID uuid.UUID) error {
	pipe := s.rdb.TxPipeline()
	pipe.Incr(ctx, s.genKey(patientID))
	pipe.Expire(ctx, s.genKey(patientID), 24*time.Hour+s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Probe pings the server for health checks.
func (s *PlanStore) Probe(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
