package grbl

import (
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fluidcnc/autolevel/probe"
)

// statusPollInterval matches the bridge's status cadence.
const statusPollInterval = 250 * time.Millisecond

// Client owns one controller connection and implements
// probe.Controller. Push messages are routed by a single read loop:
// status reports update the snapshot, probe reports go to the armed
// single-shot channel.
type Client struct {
	conn *Conn

	mu        sync.Mutex
	last      probe.Status
	armed     chan probe.Result
	connected bool

	state  chan probe.Status
	stopCh chan struct{}
	stop   sync.Once
}

var _ probe.Controller = &Client{}

func NewClient(rw io.ReadWriter) *Client {
	c := &Client{
		conn:      NewConn(rw),
		connected: true,
		state:     make(chan probe.Status, 1),
		stopCh:    make(chan struct{}),
	}
	go c.readLoop()
	go c.pollLoop()
	return c
}

// Close shuts down the connection and its loops.
func (c *Client) Close() error {
	c.stop.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return c.conn.Close()
}

// State streams status snapshots as they arrive. Reports are dropped
// when the reader lags.
func (c *Client) State() <-chan probe.Status { return c.state }

func (c *Client) Queue(cmd string) error { return c.conn.Queue(cmd) }
func (c *Client) Run(cmd string) error   { return c.conn.Run(cmd) }
func (c *Client) Realtime(b byte) error  { return c.conn.Realtime(b) }

// Reset sends a soft reset, halting motion and flushing the
// controller's planner. The controller answers with its banner,
// which clears the connection's buffer accounting.
func (c *Client) Reset() error { return c.conn.Realtime(probe.RTReset) }

func (c *Client) Status() probe.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ArmProbe invalidates any previous probe-result handle and returns a
// fresh single-shot one. A result arriving with no armed handle, or
// after the handle already fired, is dropped.
func (c *Client) ArmProbe() <-chan probe.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = make(chan probe.Result, 1)
	return c.armed
}

func (c *Client) pollLoop() {
	t := time.NewTicker(statusPollInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
		}
		if err := c.conn.Realtime(probe.RTStatus); err != nil {
			log.Printf("ERROR: status poll: %+v", err)
			return
		}
	}
}

func (c *Client) readLoop() {
	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			if !errors.Is(err, io.ErrClosedPipe) {
				log.Printf("ERROR: read from controller: %+v", err)
			}
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return
		}
		c.handle(line)
	}
}

func (c *Client) handle(line string) {
	switch {
	case strings.HasPrefix(line, "<"):
		c.mu.Lock()
		stat, err := parseStatus(c.last, line)
		if err != nil {
			c.mu.Unlock()
			log.Printf("ERROR: parse status: %+v", err)
			return
		}
		c.last = *stat
		c.mu.Unlock()
		select {
		case c.state <- *stat:
		default:
		}
	case strings.HasPrefix(line, "[PRB:"):
		res, err := parseProbe(line)
		if err != nil {
			log.Printf("ERROR: parse probe report: %+v", err)
			return
		}
		c.mu.Lock()
		armed := c.armed
		c.armed = nil // single shot
		c.mu.Unlock()
		if armed == nil {
			log.Printf("ERROR: dropping probe report with no armed cycle: %s", line)
			return
		}
		armed <- *res
	case strings.HasPrefix(line, "ALARM"):
		c.mu.Lock()
		c.last.State = "Alarm"
		c.mu.Unlock()
	}
}
