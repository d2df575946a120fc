package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/rpattn/replay/internal/domain"
)

// Status is the state of the import slot as shown to clients.
type Status string

const (
	StatusReady      Status = "Ready"
	StatusProcessing Status = "Processing"
	StatusSuccess    Status = "Success"
	StatusFailure    Status = "Failure"
)

// StatusOf maps the stored run state to the client facing status. A nil run
// means nothing was ever submitted on the channel.
func StatusOf(run *domain.ImportRun) Status {
	if run == nil {
		return StatusReady
	}
	switch run.Status {
	case domain.ImportRunQueued, domain.ImportRunProcessing:
		return StatusProcessing
	case domain.ImportRunSuccess:
		return StatusSuccess
	case domain.ImportRunFailure:
		return StatusFailure
	default:
		return StatusReady
	}
}

// StatusStore holds the current run of each channel.
type StatusStore interface {
	Current(ctx context.Context, channel string) (*domain.ImportRun, error)
	Save(ctx context.Context, run domain.ImportRun) error
}

// RedisStatusStore keeps the current run as a JSON document per channel.
type RedisStatusStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStatusStore stores runs under keys starting with prefix.
func NewRedisStatusStore(client redis.UniversalClient, prefix string) *RedisStatusStore {
	return &RedisStatusStore{client: client, prefix: prefix}
}

func (s *RedisStatusStore) key(channel string) string {
	return s.prefix + "import:" + channel
}

func (s *RedisStatusStore) Current(ctx context.Context, channel string) (*domain.ImportRun, error) {
	raw, err := s.client.Get(ctx, s.key(channel)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read import status: %w", err)
	}
	var run domain.ImportRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode import status: %w", err)
	}
	return &run, nil
}

func (s *RedisStatusStore) Save(ctx context.Context, run domain.ImportRun) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode import status: %w", err)
	}
	if err := s.client.Set(ctx, s.key(run.Channel), raw, 0).Err(); err != nil {
		return fmt.Errorf("write import status: %w", err)
	}
	return nil
}

// MemoryStatusStore is a process local StatusStore.
type MemoryStatusStore struct {
	mu   sync.Mutex
	runs map[string]domain.ImportRun
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{runs: map[string]domain.ImportRun{}}
}

func (s *MemoryStatusStore) Current(_ context.Context, channel string) (*domain.ImportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[channel]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (s *MemoryStatusStore) Save(_ context.Context, run domain.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.Channel] = run
	return nil
}
