package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/domain"
	"github.com/gantry-ci/gantry/internal/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for MVP
	},
}

// Handler streams run and job events to WebSocket clients. It holds a
// single bus subscription per topic and fans events out in process: on a
// stream-backed bus each consumer group member receives a disjoint share
// of the stream, so per-connection subscriptions would split the feed
// between connections instead of copying it. The handler's bus must use
// a consumer group of its own for the same reason.
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger

	subscribeOnce sync.Once

	mu    sync.Mutex
	sinks map[chan domain.Event]struct{}
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
		sinks:    make(map[chan domain.Event]struct{}),
	}
}

// HandleRunStream streams run and job events for a specific run
func (h *Handler) HandleRunStream(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("run_id", runID),
		zap.String("client", c.ClientIP()))

	eventChan := h.addSink()
	defer h.removeSink(eventChan)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			// Only send events for this run
			if event.RunID != runID {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// addSink registers a per-connection event channel, subscribing to the
// bus on first use. The subscription lives for the handler's lifetime,
// not the connection's.
func (h *Handler) addSink() chan domain.Event {
	h.subscribeOnce.Do(func() {
		for _, topic := range []string{ports.TopicRunEvents, ports.TopicJobEvents} {
			if err := h.eventBus.Subscribe(context.Background(), topic, h.broadcast); err != nil {
				h.logger.Error("failed to subscribe to events",
					zap.String("topic", topic),
					zap.Error(err))
			}
		}
	})

	ch := make(chan domain.Event, 16)
	h.mu.Lock()
	h.sinks[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Handler) removeSink(ch chan domain.Event) {
	h.mu.Lock()
	delete(h.sinks, ch)
	h.mu.Unlock()
}

// broadcast copies an event to every connected client without blocking;
// a client that cannot keep up loses events rather than wedging the bus.
func (h *Handler) broadcast(_ context.Context, event domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.sinks {
		select {
		case ch <- event:
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}
