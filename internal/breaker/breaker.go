package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/redis"
)

const (
	keyPrefixBreaker = "breaker"

	fieldState         = "state"
	fieldFailures      = "failures"
	fieldOpenedAt      = "opened_at"
	fieldLastFailureAt = "last_failure_at"
	fieldLastSuccessAt = "last_success_at"

	DefaultThreshold = 10
	DefaultRecovery  = 5 * time.Minute

	// probeTTL bounds how long a claimed half-open probe suppresses
	// further probes when its outcome is never recorded.
	probeTTL = 30 * time.Second
)

// Verdict is the gate decision for one delivery attempt.
type Verdict int

const (
	// VerdictProceed lets the attempt through.
	VerdictProceed Verdict = iota
	// VerdictSkip short-circuits the attempt without touching the endpoint.
	VerdictSkip
	// VerdictProbe lets exactly one attempt through a half-open circuit.
	VerdictProbe
)

// State is the read-through snapshot surfaced on admin reads.
type State struct {
	CircuitState        models.CircuitState
	ConsecutiveFailures int64
	OpenedAt            *time.Time
	LastFailureAt       *time.Time
	LastSuccessAt       *time.Time
}

// Breaker is a per-integration circuit breaker. Only infrastructure
// failures are recorded; the caller classifies outcomes before calling
// RecordFailure.
type Breaker interface {
	Check(ctx context.Context, integrationID string) (Verdict, error)
	RecordSuccess(ctx context.Context, integrationID string) error
	RecordFailure(ctx context.Context, integrationID string) (opened bool, err error)
	Snapshot(ctx context.Context, integrationID string) (*State, error)
}

type redisBreaker struct {
	client    redis.Cmdable
	threshold int64
	recovery  time.Duration
	now       func() time.Time
}

var _ Breaker = (*redisBreaker)(nil)

type Option func(*redisBreaker)

func WithThreshold(threshold int64) Option {
	return func(b *redisBreaker) {
		b.threshold = threshold
	}
}

func WithRecovery(recovery time.Duration) Option {
	return func(b *redisBreaker) {
		b.recovery = recovery
	}
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) Option {
	return func(b *redisBreaker) {
		b.now = now
	}
}

func New(client redis.Cmdable, opts ...Option) Breaker {
	b := &redisBreaker{
		client:    client,
		threshold: DefaultThreshold,
		recovery:  DefaultRecovery,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *redisBreaker) stateKey(integrationID string) string {
	return fmt.Sprintf("%s:{%s}:state", keyPrefixBreaker, integrationID)
}

func (b *redisBreaker) probeKey(integrationID string) string {
	return fmt.Sprintf("%s:{%s}:probe", keyPrefixBreaker, integrationID)
}

func (b *redisBreaker) Check(ctx context.Context, integrationID string) (Verdict, error) {
	snapshot, err := b.Snapshot(ctx, integrationID)
	if err != nil {
		return VerdictSkip, err
	}

	switch snapshot.CircuitState {
	case models.CircuitClosed:
		return VerdictProceed, nil

	case models.CircuitOpen:
		if snapshot.OpenedAt == nil || b.now().Sub(*snapshot.OpenedAt) < b.recovery {
			return VerdictSkip, nil
		}
		// Recovery elapsed. First caller through claims the probe and
		// flips the circuit to half-open; everyone else keeps skipping.
		claimed, err := b.client.SetNX(ctx, b.probeKey(integrationID), "1", probeTTL).Result()
		if err != nil {
			return VerdictSkip, err
		}
		if !claimed {
			return VerdictSkip, nil
		}
		if err := b.client.HSet(ctx, b.stateKey(integrationID), fieldState, string(models.CircuitHalfOpen)).Err(); err != nil {
			return VerdictSkip, err
		}
		return VerdictProbe, nil

	case models.CircuitHalfOpen:
		claimed, err := b.client.SetNX(ctx, b.probeKey(integrationID), "1", probeTTL).Result()
		if err != nil {
			return VerdictSkip, err
		}
		if claimed {
			return VerdictProbe, nil
		}
		return VerdictSkip, nil
	}

	return VerdictProceed, nil
}

func (b *redisBreaker) RecordSuccess(ctx context.Context, integrationID string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, b.stateKey(integrationID),
			fieldState, string(models.CircuitClosed),
			fieldFailures, 0,
			fieldLastSuccessAt, b.now().Format(time.RFC3339Nano),
		)
		pipe.HDel(ctx, b.stateKey(integrationID), fieldOpenedAt)
		pipe.Del(ctx, b.probeKey(integrationID))
		return nil
	})
	return err
}

func (b *redisBreaker) RecordFailure(ctx context.Context, integrationID string) (bool, error) {
	snapshot, err := b.Snapshot(ctx, integrationID)
	if err != nil {
		return false, err
	}

	now := b.now()

	// A failed probe reopens the circuit and restarts the recovery clock.
	if snapshot.CircuitState == models.CircuitHalfOpen {
		_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, b.stateKey(integrationID),
				fieldState, string(models.CircuitOpen),
				fieldOpenedAt, now.Format(time.RFC3339Nano),
				fieldLastFailureAt, now.Format(time.RFC3339Nano),
			)
			pipe.Del(ctx, b.probeKey(integrationID))
			return nil
		})
		return true, err
	}

	pipe := b.client.Pipeline()
	incrCmd := pipe.HIncrBy(ctx, b.stateKey(integrationID), fieldFailures, 1)
	pipe.HSet(ctx, b.stateKey(integrationID), fieldLastFailureAt, now.Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	failures, err := incrCmd.Result()
	if err != nil {
		return false, err
	}
	if failures < b.threshold || snapshot.CircuitState == models.CircuitOpen {
		return false, nil
	}

	err = b.client.HSet(ctx, b.stateKey(integrationID),
		fieldState, string(models.CircuitOpen),
		fieldOpenedAt, now.Format(time.RFC3339Nano),
	).Err()
	return err == nil, err
}

func (b *redisBreaker) Snapshot(ctx context.Context, integrationID string) (*State, error) {
	hash, err := b.client.HGetAll(ctx, b.stateKey(integrationID)).Result()
	if err != nil {
		return nil, err
	}

	snapshot := &State{CircuitState: models.CircuitClosed}
	if len(hash) == 0 {
		return snapshot, nil
	}

	if v, ok := hash[fieldState]; ok && v != "" {
		snapshot.CircuitState = models.CircuitState(v)
	}
	if v, ok := hash[fieldFailures]; ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			snapshot.ConsecutiveFailures = n
		}
	}
	snapshot.OpenedAt = parseTimeField(hash, fieldOpenedAt)
	snapshot.LastFailureAt = parseTimeField(hash, fieldLastFailureAt)
	snapshot.LastSuccessAt = parseTimeField(hash, fieldLastSuccessAt)
	return snapshot, nil
}

func parseTimeField(hash map[string]string, field string) *time.Time {
	v, ok := hash[field]
	if !ok || v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
