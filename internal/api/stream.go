package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/rednote-publisher/internal/metrics"
	"github.com/shehryarbajwa/rednote-publisher/internal/publish"
	"github.com/shehryarbajwa/rednote-publisher/internal/ratelimit"
	"github.com/shehryarbajwa/rednote-publisher/pkg/models"
)

const (
	requestWait = 30 * time.Second
	writeWait   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamHandler runs publish jobs over a websocket and streams progress.
type StreamHandler struct {
	publisher *publish.Service
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewStreamHandler(publisher *publish.Service, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		publisher: publisher,
		limiter:   limiter,
		metrics:   m,
		logger:    logger.Named("stream"),
	}
}

// streamConn serializes writes to one websocket.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *streamConn) send(msg models.StreamMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *streamConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// HandlePublish handles GET /v1/publish/ws. The client sends one
// PublishRequest; the server answers with progress messages followed by a
// single result message. Closing the socket cancels the job.
func (s *StreamHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	s.metrics.IncWSConnections()
	defer s.metrics.DecWSConnections()

	client := &streamConn{conn: conn}

	var req models.PublishRequest
	_ = conn.SetReadDeadline(time.Now().Add(requestWait))
	if err := conn.ReadJSON(&req); err != nil {
		_ = client.send(models.StreamMessage{Type: models.StreamError, Error: "invalid request: " + err.Error()})
		client.close(websocket.CloseUnsupportedData, "invalid request")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	logger := s.logger.With(zap.String("username", req.Username))

	if req.Username != "" && !s.limiter.Allow(req.Username) {
		s.metrics.IncRateLimited()
		_ = client.send(models.StreamMessage{Type: models.StreamError, Error: "rate limit exceeded"})
		client.close(websocket.ClosePolicyViolation, "rate limit exceeded")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing more; a read error means it went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Info("Client disconnected during publish", zap.Error(err))
				}
				cancel()
				return
			}
		}
	}()

	logger.Info("Client connected to publish stream")

	progress := func(p publish.Progress) {
		err := client.send(models.StreamMessage{
			Type: models.StreamProgress,
			Progress: &models.ProgressEvent{
				Stage:   string(p.Stage),
				Percent: p.Percent,
				Message: p.Message,
			},
		})
		if err != nil {
			logger.Debug("Failed to send progress", zap.Error(err))
		}
	}

	res, err := s.publisher.Publish(ctx, req.Username, jobFromRequest(req), progress)
	msg := models.StreamMessage{Type: models.StreamResult, Result: res}
	if err != nil {
		msg.Error = err.Error()
	}
	if err := client.send(msg); err != nil {
		logger.Warn("Failed to send result", zap.Error(err))
		return
	}
	client.close(websocket.CloseNormalClosure, "done")
}
