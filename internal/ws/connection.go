package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tetatet/internal/hub"
	"tetatet/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	outBuffer  = 64
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// EventHandler receives inbound events and disconnect notifications for a
// connection. *hub.Hub implements it.
type EventHandler interface {
	HandleEvent(c hub.Conn, ev models.ClientEvent)
	Disconnect(c hub.Conn)
}

// Connection adapts one websocket to the hub.Conn contract: a non-blocking
// buffered outbound path and transport-level liveness via ping/pong.
type Connection struct {
	ws       wsConnection
	handler  EventHandler
	out      chan models.ServerEvent
	done     chan struct{}
	closer   sync.Once
	lastSeen atomic.Int64
	errorCh  chan error
}

func NewConnection(handler EventHandler, ws wsConnection) *Connection {
	c := &Connection{
		ws:      ws,
		handler: handler,
		out:     make(chan models.ServerEvent, outBuffer),
		done:    make(chan struct{}),
		errorCh: make(chan error, 2),
	}
	c.touch()
	return c
}

// Send queues an event for the write pump. It never blocks: a closed
// connection or a full buffer drops the event and reports false.
func (c *Connection) Send(ev models.ServerEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- ev:
		return true
	default:
		return false
	}
}

// Alive reports whether the peer has answered a ping (or sent any frame)
// within the pong window.
func (c *Connection) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
	}
	return time.Since(time.UnixMilli(c.lastSeen.Load())) < pongWait
}

func (c *Connection) Close() {
	c.closer.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixMilli())
}

// Handle runs the read and write pumps until the connection drops or the
// context is cancelled, then notifies the handler exactly once.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.handler.Disconnect(c)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.readPump(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.writePump(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) readPump(ctx context.Context) error {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		c.touch()
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.handler.HandleEvent(c, ev)
	}
}

func (c *Connection) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
