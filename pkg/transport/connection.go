package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connId uuid.UUID, msg []byte)

type OnCloseHandler func(connId uuid.UUID, err error)

type ConnectionConfig struct {
	// ReadTimeout bounds the wait for the next inbound frame. Zero disables it.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval drives liveness probes. Zero disables them.
	PingInterval time.Duration
	SendBuffer   int
}

const defaultSendBuffer = 64

// PolicyViolation builds the error used to terminate a session for identity failures.
func PolicyViolation(reason string) error {
	return websocket.CloseError{Code: websocket.StatusPolicyViolation, Reason: reason}
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	// guards the started/closed pair so wg is released exactly once
	lifecycleMu sync.Mutex
	started     bool
	closed      bool

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))

	buffer := config.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,
	}
}

// Run starts the pumps. It is a no-op on a connection that was already closed.
func (c *Connection) Run() {
	c.lifecycleMu.Lock()
	if c.closed {
		c.lifecycleMu.Unlock()
		return
	}
	c.started = true
	if c.wg != nil {
		c.wg.Add(1)
	}
	c.lifecycleMu.Unlock()

	go c.readPump()
	go c.writePump()

	c.logger.Info("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
// Messages of one connection are handled in order, one at a time.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		message, err := c.readMessage()
		if err != nil {
			readErr = err
			return
		}
		if message == nil {
			continue
		}
		if err := c.dispatch(message); err != nil {
			readErr = err
			return
		}
	}
}

func (c *Connection) readMessage() ([]byte, error) {
	readCtx, cancelRead := c.ctx, context.CancelFunc(func() {})
	if c.config.ReadTimeout > 0 {
		readCtx, cancelRead = context.WithTimeout(c.ctx, c.config.ReadTimeout)
	}
	defer cancelRead()

	typ, r, err := c.conn.Reader(readCtx)
	if err != nil {
		return nil, err
	}
	// Ensure we are only handling text or binary messages.
	if typ != websocket.MessageText && typ != websocket.MessageBinary {
		return nil, nil
	}
	return io.ReadAll(r)
}

// dispatch runs the handler, turning a panic into a connection error.
func (c *Connection) dispatch(message []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", slog.Any("panic", r))
			err = fmt.Errorf("message handler panic: %v", r)
		}
	}()
	if c.onMessage != nil {
		c.onMessage(c.ctx, c.id, message)
	}
	return nil
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	var pings <-chan time.Time
	if c.config.PingInterval > 0 {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				writeErr = err
				return
			}
		case <-pings:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.pingTimeout())
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				writeErr = fmt.Errorf("ping failed: %w", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(message []byte) error {
	ctx, cancel := c.ctx, context.CancelFunc(func() {})
	if c.config.WriteTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.config.WriteTimeout)
	}
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, message)
}

func (c *Connection) pingTimeout() time.Duration {
	if c.config.WriteTimeout > 0 {
		return c.config.WriteTimeout
	}
	return c.config.PingInterval
}

// Send enqueues a message for the write pump. It never blocks: if the
// connection is closed or its buffer is full the message is dropped and
// false is returned. It is safe for concurrent use.
func (c *Connection) Send(message []byte) bool {
	select {
	case <-c.ctx.Done():
		c.logger.Debug("Attempted to send on a closed connection")
		return false
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping message")
		return false
	}
}

// gracefully shuts down the connection and its resources.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		code, reason := websocket.StatusNormalClosure, ""
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusPolicyViolation {
			code, reason = closeErr.Code, closeErr.Reason
		}
		c.logger.Info("Transport connection closing", slog.Any("reason", err), slog.String("status", code.String()))

		c.lifecycleMu.Lock()
		c.closed = true
		started := c.started
		c.lifecycleMu.Unlock()

		// the close frame goes out before the pumps are cancelled; a cancelled
		// read context would otherwise tear the socket down without it
		if c.conn != nil {
			c.conn.Close(code, reason)
		}
		c.cancel() // Signal goroutines to stop.
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		if c.wg != nil && started {
			c.wg.Done()
		}
		close(c.done)
		c.logger.Info("Connection closed")
	})
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
