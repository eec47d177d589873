package beast

import (
	"context"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/hut8/soar-sub007/pkg/logger"
)

// FrameHandler receives every framed message with its receipt time
type FrameHandler func(frame *Frame, receivedAt time.Time)

// Client maintains a TCP connection to a Beast-format feed (dump1090 port
// 30005 style) and hands extracted frames to the handler. Reconnects are
// paced by a rate limiter so a flapping feed cannot spin the dialer.
type Client struct {
	addr      string
	handler   FrameHandler
	logger    *logger.Logger
	reconnect *rate.Limiter

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a Beast feed client
func NewClient(addr string, handler FrameHandler, log *logger.Logger) *Client {
	return &Client{
		addr:      addr,
		handler:   handler,
		logger:    log.Named("beast"),
		reconnect: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Start begins the connect/read loop in the background
func (c *Client) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
	return nil
}

// Stop terminates the connection and waits for the read loop to exit
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		if err := c.reconnect.Wait(ctx); err != nil {
			return
		}

		if err := c.readConn(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Beast connection lost, reconnecting",
				logger.String("addr", c.addr),
				logger.Error(err))
		}
	}
}

func (c *Client) readConn(ctx context.Context) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.logger.Info("Connected to Beast feed", logger.String("addr", c.addr))

	// unblock the reader when the context is canceled; connDone releases
	// the watchdog when this connection ends so reconnects do not pile up
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-connDone:
		}
	}()

	framer := NewFramer(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			return err
		}
		frame, err := framer.Next()
		if err != nil {
			return err
		}
		c.handler(frame, time.Now().UTC())
	}
}
