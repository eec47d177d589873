package aprsis

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hut8/soar-sub007/pkg/logger"
)

const (
	dialTimeout       = 10 * time.Second
	readDeadline      = 60 * time.Second
	keepaliveInterval = 30 * time.Second
)

// LineHandler receives every non-comment line with its receipt time
type LineHandler func(line string, receivedAt time.Time)

// Config holds APRS-IS connection parameters
type Config struct {
	Addr     string
	Callsign string
	Passcode string
	// Filter is an APRS-IS server-side filter, e.g. "r/46.8/8.2/250"
	Filter  string
	Version string
}

// Client maintains a connection to an APRS-IS server (glidernet.org style),
// performs the login handshake and hands every traffic line to the handler.
// Reconnects are paced by a rate limiter.
type Client struct {
	cfg       Config
	handler   LineHandler
	logger    *logger.Logger
	reconnect *rate.Limiter

	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates an APRS-IS client
func NewClient(cfg Config, handler LineHandler, log *logger.Logger) *Client {
	if cfg.Passcode == "" {
		// receive-only sessions use the conventional invalid passcode
		cfg.Passcode = "-1"
	}
	return &Client{
		cfg:       cfg,
		handler:   handler,
		logger:    log.Named("aprs-is"),
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
			c.logger.Warn("APRS-IS connection lost, reconnecting",
				logger.String("addr", c.cfg.Addr),
				logger.Error(err))
		}
	}
}

// loginLine builds the APRS-IS login sentence
func (c *Client) loginLine() string {
	line := fmt.Sprintf("user %s pass %s vers soar %s",
		c.cfg.Callsign, c.cfg.Passcode, c.cfg.Version)
	if c.cfg.Filter != "" {
		line += " filter " + c.cfg.Filter
	}
	return line + "\r\n"
}

func (c *Client) readConn(ctx context.Context) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return err
	}
	defer conn.Close()

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

	if _, err := conn.Write([]byte(c.loginLine())); err != nil {
		return fmt.Errorf("login write failed: %w", err)
	}

	c.logger.Info("Connected to APRS-IS",
		logger.String("addr", c.cfg.Addr),
		logger.String("callsign", c.cfg.Callsign),
		logger.String("filter", c.cfg.Filter))

	// the server goes quiet if it hears nothing back; send a comment
	// line periodically
	stopKeepalive := make(chan struct{})
	defer close(stopKeepalive)
	go func() {
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := conn.Write([]byte("# keepalive\r\n")); err != nil {
					return
				}
			case <-stopKeepalive:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return err
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return fmt.Errorf("server closed connection")
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.Contains(line, "unverified") || strings.Contains(line, "verified") {
				c.logger.Debug("APRS-IS server banner", logger.String("line", line))
			}
			continue
		}
		c.handler(line, time.Now().UTC())
	}
}
