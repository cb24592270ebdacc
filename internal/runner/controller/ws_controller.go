package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"codelens/internal/runner/model"
	"codelens/internal/runner/sandbox/spec"
	"codelens/internal/runner/stream"
	appErr "codelens/pkg/errors"
	"codelens/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// BatchRunner executes one batch of test cases against an emitter.
type BatchRunner interface {
	RunBatch(ctx context.Context, batchID string, cases []spec.TestCase, emitter stream.Emitter) error
}

// WSController serves the websocket channel clients submit batches over.
type WSController struct {
	runner   BatchRunner
	upgrader websocket.Upgrader
}

// NewWSController creates a new WSController.
func NewWSController(runner BatchRunner) *WSController {
	return &WSController{
		runner: runner,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The channel is fronted by the gateway which owns origin
			// policy; the service itself accepts any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and runs the session message loop until the
// client disconnects. Disconnecting cancels every batch started on the
// session; their sandboxes are still reclaimed in the background.
func (h *WSController) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	session := stream.NewSession(conn)
	defer session.Close()

	// Deferred in reverse order: cancel must fire before the wait so a
	// disconnect aborts in-flight batches instead of draining them.
	var batches sync.WaitGroup
	defer batches.Wait()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	logger.Info(ctx, "session opened", zap.String("remote", conn.RemoteAddr().String()))

	for {
		data, err := session.ReadMessage()
		if err != nil {
			logger.Info(ctx, "session closed", zap.Error(appErr.GetError(err)))
			return
		}
		h.dispatch(ctx, session, &batches, data)
	}
}

func (h *WSController) dispatch(ctx context.Context, session *stream.Session, batches *sync.WaitGroup, data []byte) {
	var envelope model.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		h.sendError(ctx, session, "", appErr.New(appErr.MessageDecodeFailed))
		return
	}

	switch envelope.Type {
	case model.MessageTypePing:
		if err := session.Send(ctx, model.NewPong(envelope.ID)); err != nil {
			logger.Warn(ctx, "send pong failed", zap.Error(err))
		}
	case model.MessageTypeRunTests:
		h.runTests(ctx, session, batches, data)
	default:
		h.sendError(ctx, session, envelope.ID, appErr.Newf(appErr.UnsupportedMessage, "unsupported message type %q", envelope.Type))
	}
}

func (h *WSController) runTests(ctx context.Context, session *stream.Session, batches *sync.WaitGroup, data []byte) {
	var msg model.RunTestsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(ctx, session, "", appErr.New(appErr.MessageDecodeFailed))
		return
	}
	batchID := msg.ID
	if batchID == "" {
		batchID = uuid.New().String()
	}
	cases, err := msg.ToTestCases()
	if err != nil {
		h.sendError(ctx, session, batchID, err)
		return
	}

	// One goroutine per batch; the read loop stays responsive to pings
	// and further batches while this one runs.
	batches.Add(1)
	go func() {
		defer batches.Done()
		if err := h.runner.RunBatch(ctx, batchID, cases, session); err != nil {
			if appErr.Is(err, appErr.BatchCancelled) {
				return
			}
			logger.Error(ctx, "batch run failed",
				zap.String("batch_id", batchID), zap.Error(err))
			h.sendError(ctx, session, batchID, err)
		}
	}()
}

func (h *WSController) sendError(ctx context.Context, session *stream.Session, messageID string, err error) {
	if sendErr := session.Send(ctx, model.NewErrorMessage(messageID, err)); sendErr != nil {
		logger.Warn(ctx, "send error reply failed", zap.Error(sendErr))
	}
}
