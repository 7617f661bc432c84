package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iscanabdulhalik/swappy-realtime/apps/gateway/service/business"
	"github.com/pitabwire/frame"
	"github.com/pitabwire/util"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// sendBufferSize is the per connection outbound queue. A client that
	// cannot drain this fast is disconnected rather than backpressuring the
	// whole gateway.
	sendBufferSize = 256

	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Credentials travel in the first frame, not in cookies, so cross
		// origin upgrades carry no ambient authority.
		return true
	},
}

// wireFrame is the envelope for every frame in both directions.
type wireFrame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// GatewayServer exposes the realtime websocket endpoint and the operational
// stats endpoint.
type GatewayServer struct {
	svc      *frame.Service
	gw       *business.Gateway
	pongWait time.Duration
}

// NewGatewayServer creates the transport layer around the gateway core. The
// heartbeat interval sizes the websocket read deadline.
func NewGatewayServer(service *frame.Service, gw *business.Gateway, heartbeatInterval time.Duration) *GatewayServer {
	return &GatewayServer{
		svc:      service,
		gw:       gw,
		pongWait: 2 * heartbeatInterval,
	}
}

// ServeWS upgrades the HTTP request and hands the socket to the gateway.
func (gs *GatewayServer) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("websocket upgrade failed")
		return
	}

	socket := &wsSocket{
		ws:       ws,
		send:     make(chan wireFrame, sendBufferSize),
		pongWait: gs.pongWait,
	}

	conn, err := gs.gw.OnConnect(ctx, socket)
	if err != nil {
		// Refused at admission, typically during shutdown. Tell the client
		// why before hanging up.
		_ = ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseServiceRestart, business.CodeServerShutdown),
			time.Now().Add(writeWait),
		)
		_ = ws.Close()
		return
	}

	socket.onPong = conn.Touch

	go socket.writePump()
	gs.readPump(socket, conn)
}

// readPump runs on the request goroutine until the transport drops. Every
// decoded frame goes through the gateway's event demultiplexer.
func (gs *GatewayServer) readPump(socket *wsSocket, conn *business.Connection) {
	// Detached from the request context so in flight event handling is not
	// cancelled by the HTTP server tearing down the upgraded request.
	ctx := context.Background()

	defer gs.gw.OnDisconnect(ctx, conn)

	socket.ws.SetReadLimit(maxFrameSize)
	_ = socket.ws.SetReadDeadline(time.Now().Add(gs.pongWait))
	socket.ws.SetPongHandler(func(string) error {
		socket.onPong()
		return socket.ws.SetReadDeadline(time.Now().Add(gs.pongWait))
	})

	for {
		_, data, err := socket.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				util.Log(ctx).WithError(err).WithFields(map[string]any{
					"conn_id": conn.ID(),
				}).Debug("websocket read ended")
			}
			return
		}

		// Application level heartbeats also arm the read deadline, covering
		// clients whose websocket stacks cannot answer protocol pings.
		_ = socket.ws.SetReadDeadline(time.Now().Add(gs.pongWait))

		var f wireFrame
		if err = json.Unmarshal(data, &f); err != nil {
			_ = socket.Emit(business.EventError, map[string]string{
				"code":    business.CodeUnknownEvent,
				"message": "malformed frame",
			})
			continue
		}

		if err = gs.gw.HandleEvent(ctx, conn, f.Event, f.Payload); err != nil {
			util.Log(ctx).WithError(err).WithFields(map[string]any{
				"conn_id": conn.ID(),
				"event":   f.Event,
			}).Debug("event handling failed")
		}
	}
}

// ServeStats reports live connection statistics as JSON.
func (gs *GatewayServer) ServeStats(w http.ResponseWriter, r *http.Request) {
	stats := gs.gw.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		util.Log(r.Context()).WithError(err).Warn("failed to write stats response")
	}
}

// wsSocket adapts a gorilla websocket connection to business.ClientSocket.
// Writes are serialized through the send channel and a single write pump. The
// mutex orders Emit against Disconnect so nothing sends on a closed channel.
type wsSocket struct {
	ws       *websocket.Conn
	send     chan wireFrame
	pongWait time.Duration
	onPong   func()

	mu     sync.Mutex
	closed bool
}

func (s *wsSocket) Emit(event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return business.ErrConnectionNotFound
	}

	select {
	case s.send <- wireFrame{Event: event, Payload: body}:
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		// Slow consumer. Drop the socket rather than block the caller.
		s.Disconnect("send buffer full")
		return business.ErrConnectionNotFound
	}
}

func (s *wsSocket) Disconnect(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = s.ws.Close()
}

func (s *wsSocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *wsSocket) RemoteAddr() string {
	return s.ws.RemoteAddr().String()
}

// writePump owns all data writes on the socket, including protocol pings.
func (s *wsSocket) writePump() {
	pingPeriod := s.pongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Disconnect("")
	}()

	for {
		select {
		case f, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteJSON(f); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
