package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/alphapulse/internal/modules/analysis"
)

// progressBuffer holds every progress step of one run, so the simulation
// never waits on a slow socket.
const progressBuffer = 128

const writeTimeout = 10 * time.Second

// StreamMessage is one frame sent over the analysis stream.
type StreamMessage struct {
	Type      string           `json:"type"` // "progress", "result" or "error"
	Completed int              `json:"completed,omitempty"`
	Total     int              `json:"total,omitempty"`
	Report    *analysis.Report `json:"report,omitempty"`
	Error     string           `json:"error,omitempty"`
	Hint      string           `json:"hint,omitempty"`
	Status    int              `json:"status,omitempty"`
}

// HandleStream handles GET /api/analysis/stream.
//
// The client sends one analysis request as JSON. The server answers with
// progress frames while the simulation runs, then a single result or error
// frame, then closes. Closing the socket early cancels the simulation.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	// Long simulations outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	_, payload, err := conn.Read(ctx)
	if err != nil {
		h.log.Debug().Err(err).Msg("Failed to read stream request")
		return
	}

	var req analysis.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		h.log.Debug().Err(err).Msg("Malformed stream request")
		conn.Close(websocket.StatusUnsupportedData, "expected an analysis request")
		return
	}

	ctx, cancel := context.WithCancel(conn.CloseRead(ctx))
	defer cancel()

	progress := make(chan StreamMessage, progressBuffer)
	done := make(chan struct{})

	var (
		report *analysis.Report
		runErr error
	)
	go func() {
		defer close(done)
		report, runErr = h.service.Run(ctx, req, func(completed, total int) {
			select {
			case progress <- StreamMessage{Type: "progress", Completed: completed, Total: total}:
			default:
			}
		})
	}()

	for waiting := true; waiting; {
		select {
		case msg := <-progress:
			if err := h.send(ctx, conn, msg); err != nil {
				cancel()
			}
		case <-done:
			waiting = false
		}
	}

	// Flush progress queued before the run finished.
	for flushing := true; flushing; {
		select {
		case msg := <-progress:
			_ = h.send(ctx, conn, msg)
		default:
			flushing = false
		}
	}

	final := StreamMessage{Type: "result", Report: report}
	if runErr != nil {
		final = StreamMessage{
			Type:   "error",
			Error:  runErr.Error(),
			Hint:   hintFor(runErr),
			Status: StatusFor(runErr),
		}
		h.log.Warn().Err(runErr).Msg("Streamed analysis failed")
	}

	if err := h.send(ctx, conn, final); err != nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, msg); err != nil {
		h.log.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write stream message")
		return err
	}
	return nil
}
