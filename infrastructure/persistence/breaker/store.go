// Package breaker wraps a graph store with a circuit breaker so an
// unreachable database degrades into fast failures instead of piling up
// blocked sync passes.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"fabric/application/ports"
	"fabric/domain/core/entities"
	"fabric/domain/core/valueobjects"
	pkgerrors "fabric/pkg/errors"
)

// Config tunes the breaker. Validation errors never count as failures.
type Config struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultConfig returns conservative breaker settings for a graph store
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// Store decorates a ports.GraphStore with circuit breaking
type Store struct {
	inner  ports.GraphStore
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// Wrap decorates the given store
func Wrap(inner ports.GraphStore, config Config, logger *zap.Logger) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("graph store circuit breaker state changed",
				zap.String("store", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Caller mistakes are not store health signals
			return err == nil || pkgerrors.IsValidation(err) || pkgerrors.IsNotFound(err)
		},
	})
	return &Store{inner: inner, cb: cb, logger: logger}
}

func (s *Store) execute(op func() (any, error)) (any, error) {
	out, err := s.cb.Execute(op)
	switch err {
	case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
		return nil, pkgerrors.NewUnavailableError("graph store circuit open")
	}
	return out, err
}

func (s *Store) Execute(ctx context.Context, query string, params map[string]valueobjects.Value) ([]map[string]valueobjects.Value, error) {
	out, err := s.execute(func() (any, error) { return s.inner.Execute(ctx, query, params) })
	if err != nil {
		return nil, err
	}
	return out.([]map[string]valueobjects.Value), nil
}

func (s *Store) CreateNode(ctx context.Context, labels []string, props valueobjects.Properties) (string, error) {
	out, err := s.execute(func() (any, error) { return s.inner.CreateNode(ctx, labels, props) })
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (s *Store) GetNode(ctx context.Context, id string) (*entities.Node, error) {
	out, err := s.execute(func() (any, error) { return s.inner.GetNode(ctx, id) })
	if err != nil {
		return nil, err
	}
	return out.(*entities.Node), nil
}

func (s *Store) FindNodes(ctx context.Context, filter ports.NodeFilter) ([]*entities.Node, error) {
	out, err := s.execute(func() (any, error) { return s.inner.FindNodes(ctx, filter) })
	if err != nil {
		return nil, err
	}
	return out.([]*entities.Node), nil
}

func (s *Store) UpdateNode(ctx context.Context, id string, props valueobjects.Properties) error {
	_, err := s.execute(func() (any, error) { return nil, s.inner.UpdateNode(ctx, id, props) })
	return err
}

func (s *Store) DeleteNode(ctx context.Context, id string) error {
	_, err := s.execute(func() (any, error) { return nil, s.inner.DeleteNode(ctx, id) })
	return err
}

func (s *Store) CreateRelationship(ctx context.Context, sourceID, targetID, relType string, props valueobjects.Properties) (string, error) {
	out, err := s.execute(func() (any, error) {
		return s.inner.CreateRelationship(ctx, sourceID, targetID, relType, props)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (s *Store) UpdateRelationship(ctx context.Context, id string, props valueobjects.Properties) error {
	_, err := s.execute(func() (any, error) { return nil, s.inner.UpdateRelationship(ctx, id, props) })
	return err
}

func (s *Store) FindRelationship(ctx context.Context, sourceID, targetID, relType string) (*entities.Relationship, error) {
	out, err := s.execute(func() (any, error) { return s.inner.FindRelationship(ctx, sourceID, targetID, relType) })
	if err != nil {
		return nil, err
	}
	return out.(*entities.Relationship), nil
}

func (s *Store) Relationships(ctx context.Context, nodeID string, dir ports.Direction, relTypes ...string) ([]*entities.Relationship, error) {
	out, err := s.execute(func() (any, error) { return s.inner.Relationships(ctx, nodeID, dir, relTypes...) })
	if err != nil {
		return nil, err
	}
	return out.([]*entities.Relationship), nil
}

func (s *Store) SetPreWriteHook(hook ports.PreWriteHook) {
	s.inner.SetPreWriteHook(hook)
}

func (s *Store) VerifyConnectivity(ctx context.Context) bool {
	if s.cb.State() == gobreaker.StateOpen {
		return false
	}
	return s.inner.VerifyConnectivity(ctx)
}

func (s *Store) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}
