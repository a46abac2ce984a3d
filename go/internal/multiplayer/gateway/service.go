package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mcdev12/racesync/go/internal/multiplayer/registry"
	"github.com/mcdev12/racesync/go/internal/multiplayer/roomevents"
	"github.com/rs/zerolog/log"
)

// Service is the race gateway: websocket connections, the room registry and
// the room event stream
type Service struct {
	registry          *registry.Registry
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	metrics           *CounterMetrics
	events            *roomevents.AsyncPublisher
	publisher         roomevents.Publisher
}

// Config holds configuration for the race gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  roomevents.JetStreamConfig
	// EventsEnabled turns on publishing room events to JetStream
	EventsEnabled  bool
	EventQueueSize int
}

// DefaultConfig returns default configuration for the race gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  roomevents.DefaultJetStreamConfig(),
		EventQueueSize:   1024,
	}
}

// NewService creates the gateway. When events are enabled it connects to NATS
// and makes sure the room event stream exists.
func NewService(ctx context.Context, config Config) (*Service, error) {
	var publisher roomevents.Publisher = roomevents.NoOpPublisher{}
	if config.EventsEnabled {
		js, err := roomevents.NewJetStreamPublisher(ctx, config.JetStreamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create room event publisher: %w", err)
		}
		publisher = js
	}

	reg := registry.New()
	metrics := NewCounterMetrics()
	events := roomevents.NewAsyncPublisher(publisher, config.EventQueueSize)
	cm := NewConnectionManager(config.ConnectionConfig, reg, events, metrics)

	return &Service{
		registry:          reg,
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm, metrics),
		metrics:           metrics,
		events:            events,
		publisher:         publisher,
	}, nil
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting race gateway service")

	go s.connectionManager.Start(ctx)
	go s.events.Run(ctx)

	<-ctx.Done()

	log.Info().Msg("race gateway service shutting down")
	return s.Stop()
}

// Stop releases the event publisher
func (s *Service) Stop() error {
	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close room event publisher")
		}
	}
	log.Info().Msg("race gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket, health and metrics routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)

	health := NewServiceHealthChecker(s)
	mux.Handle("/health", health)
	mux.Handle("/metrics", NewPrometheusExporter(health, s.metrics))
	log.Info().Msg("race gateway routes registered")
}

// Registry exposes the room registry
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "race_gateway"
	stats["counters"] = s.metrics.Snapshot()
	stats["dropped_events"] = s.events.Dropped()
	return stats
}
