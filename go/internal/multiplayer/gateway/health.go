package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy       bool
	Connections   int
	Rooms         int
	Participants  int
	EventsEnabled bool
	NATSConnected bool
	DroppedEvents uint64
	Errors        []string
}

type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// connectivity is implemented by publishers that hold a broker connection
type connectivity interface {
	Connected() bool
}

// ServiceHealthChecker reports on a running gateway service
type ServiceHealthChecker struct {
	service *Service
}

func NewServiceHealthChecker(s *Service) *ServiceHealthChecker {
	return &ServiceHealthChecker{service: s}
}

func (h *ServiceHealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	stats := h.service.registry.Stats()
	status.Rooms = stats.Rooms
	status.Participants = stats.Participants
	status.Connections = h.service.connectionManager.Count()
	status.DroppedEvents = h.service.events.Dropped()

	if c, ok := h.service.publisher.(connectivity); ok {
		status.EventsEnabled = true
		status.NATSConnected = c.Connected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	return status
}

func (h *ServiceHealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	response := map[string]interface{}{
		"healthy":        status.Healthy,
		"connections":    status.Connections,
		"rooms":          status.Rooms,
		"participants":   status.Participants,
		"events_enabled": status.EventsEnabled,
		"nats_connected": status.NATSConnected,
		"dropped_events": status.DroppedEvents,
		"errors":         status.Errors,
	}

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}

// PrometheusExporter renders health and counters in the Prometheus text format
type PrometheusExporter struct {
	checker HealthChecker
	metrics *CounterMetrics
}

func NewPrometheusExporter(checker HealthChecker, metrics *CounterMetrics) *PrometheusExporter {
	return &PrometheusExporter{checker: checker, metrics: metrics}
}

func (e *PrometheusExporter) Export(ctx context.Context) string {
	status := e.checker.Check(ctx)

	var b strings.Builder
	gauge := func(name, help string, value any) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n\n", name, help, name, name, value)
	}
	counter := func(name, help string, value uint64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, value)
	}

	gauge("racesync_healthy", "Whether the gateway is healthy", boolToInt(status.Healthy))
	gauge("racesync_connections", "Open websocket connections", status.Connections)
	gauge("racesync_rooms", "Live rooms", status.Rooms)
	gauge("racesync_participants", "Participants across all rooms", status.Participants)
	gauge("racesync_nats_connected", "Whether NATS is connected", boolToInt(status.NATSConnected))
	counter("racesync_room_events_dropped_total", "Room events dropped because the queue was full", status.DroppedEvents)

	if e.metrics != nil {
		snapshot := e.metrics.Snapshot()
		counter("racesync_joins_total", "Successful joins", snapshot["joins"])
		counter("racesync_rooms_created_total", "Rooms created", snapshot["rooms_created"])
		counter("racesync_rejected_joins_total", "Rejected joins", snapshot["rejected_joins"])
		counter("racesync_moves_total", "Accepted moves", snapshot["moves"])
		counter("racesync_moves_delivered_total", "Move frames delivered to peers", snapshot["moves_delivered"])
		counter("racesync_leaves_total", "Participants that left a room", snapshot["leaves"])
		counter("racesync_rooms_deleted_total", "Rooms deleted after their last leave", snapshot["rooms_deleted"])
		counter("racesync_send_failures_total", "Frames that could not be queued for a recipient", snapshot["send_failures"])
	}
	return b.String()
}

func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if _, err := w.Write([]byte(e.Export(r.Context()))); err != nil {
		log.Error().Err(err).Msg("failed to write metrics response")
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
