package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aimerfeng/DomainDesk/internal/monitoring"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker rejects a publish
var ErrCircuitOpen = errors.New("notification circuit breaker is open")

// StreamAdder is the subset of the redis client the stream notifier needs
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// BreakerConfig tunes the stream notifier's circuit breaker
type BreakerConfig struct {
	// MaxRequests allowed through while half-open
	MaxRequests uint32
	// Interval after which closed-state counts are cleared
	Interval time.Duration
	// Timeout spent open before probing again
	Timeout time.Duration
	// FailureThreshold consecutive failures open the breaker
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the breaker settings used in production
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// StreamNotifier appends events to a Redis stream for downstream delivery workers
type StreamNotifier struct {
	client  StreamAdder
	stream  string
	maxLen  int64
	breaker *gobreaker.CircuitBreaker
}

// NewStreamNotifier creates a notifier writing to stream, trimmed to roughly maxLen entries
func NewStreamNotifier(client StreamAdder, stream string, maxLen int64, cfg BreakerConfig) *StreamNotifier {
	name := fmt.Sprintf("notify-%s", stream)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info().
				Str("circuit_breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state changed")
			monitoring.SetCircuitBreakerState(name, stateToGauge(to))
		},
		IsSuccessful: func(err error) bool {
			// a cancelled caller says nothing about redis health
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	monitoring.SetCircuitBreakerState(name, 0)

	return &StreamNotifier{client: client, stream: stream, maxLen: maxLen, breaker: breaker}
}

// Publish implements Notifier
func (n *StreamNotifier) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return n.client.XAdd(ctx, &redis.XAddArgs{
			Stream: n.stream,
			MaxLen: n.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"kind":         string(event.Kind),
				"recipient_id": event.RecipientID,
				"payload":      payload,
			},
		}).Result()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrCircuitOpen
		}
		return fmt.Errorf("failed to append to stream %s: %w", n.stream, err)
	}
	return nil
}

// State reports the breaker state as closed, open or half-open
func (n *StreamNotifier) State() string {
	return stateToString(n.breaker.State())
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func stateToGauge(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
