// Package grbl speaks the grbl/grblHAL line protocol and implements
// the probe.Controller contract over serial or websocket transports.
package grbl

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// deviceBufferSize is the controller's serial receive buffer; writes
// are windowed so it never overflows.
const deviceBufferSize = 128

// ErrReset is returned from write methods if a controller reset is
// encountered before all commands have run.
var ErrReset = errors.New("grbl reset")

// Conn tracks command acknowledgments against the controller's
// receive buffer. Push messages (status reports, probe reports) are
// surfaced through ReadLine.
type Conn struct {
	rw io.ReadWriter

	scan    *bufio.Scanner
	ackCh   chan error
	resetCh chan struct{}
	closeCh chan struct{}
	closed  sync.Once

	mx  sync.Mutex // raw writes
	wMx sync.Mutex // command writers

	deviceBuf int
	lineSize  []int

	wroteLines int64
	readLines  int64
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		rw:      rw,
		scan:    bufio.NewScanner(rw),
		ackCh:   make(chan error, 16),
		resetCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Close aborts in-progress writes and closes the transport if it
// implements io.Closer.
func (c *Conn) Close() error {
	c.closed.Do(func() { close(c.closeCh) })
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Conn) record(n int) int64 {
	c.deviceBuf += n
	c.wroteLines++
	c.lineSize = append(c.lineSize, n)
	return c.wroteLines
}

func (c *Conn) waitForSpace(n int) error {
	for c.deviceBuf+n > deviceBufferSize {
		err := c.next()
		if err != nil {
			return err
		}
	}
	return nil
}

// next consumes one acknowledgment, releasing its buffer space.
func (c *Conn) next() error {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	case <-c.resetCh:
		c.deviceBuf = 0
		c.lineSize = nil
		c.readLines = c.wroteLines
		return ErrReset
	case e := <-c.ackCh:
		c.readLines++
		c.deviceBuf -= c.lineSize[0]
		c.lineSize = c.lineSize[1:]
		return e
	}
}

func (c *Conn) waitForLine(id int64) (err error) {
	for c.readLines < id {
		e := c.next()
		if err == nil {
			err = e
		}
		if errors.Is(e, io.ErrClosedPipe) {
			return err
		}
	}
	return err
}

func (c *Conn) writeLine(line string) (id int64, err error) {
	err = c.waitForSpace(len(line))
	if err != nil {
		return 0, err
	}
	c.mx.Lock()
	_, err = io.WriteString(c.rw, line)
	c.mx.Unlock()
	if err != nil {
		return 0, err
	}
	return c.record(len(line)), nil
}

// Queue sends a command without waiting for it to execute. It still
// blocks until the controller has buffer space for the line.
func (c *Conn) Queue(cmd string) error {
	c.wMx.Lock()
	defer c.wMx.Unlock()
	_, err := c.writeLine(cmd + "\n")
	return err
}

// Run sends a command and waits for its acknowledgment.
func (c *Conn) Run(cmd string) error {
	c.wMx.Lock()
	defer c.wMx.Unlock()
	id, err := c.writeLine(cmd + "\n")
	if err != nil {
		return err
	}
	return c.waitForLine(id)
}

// Realtime writes a single control byte, bypassing buffer accounting.
func (c *Conn) Realtime(b byte) error {
	select {
	case <-c.closeCh:
		return io.ErrClosedPipe
	default:
	}
	c.mx.Lock()
	_, err := c.rw.Write([]byte{b})
	c.mx.Unlock()
	return err
}

// ReadLine returns the next push message from the controller.
// Acknowledgments and reset banners are consumed internally.
func (c *Conn) ReadLine() (string, error) {
	for {
		select {
		case <-c.closeCh:
			return "", io.ErrClosedPipe
		default:
		}

		if !c.scan.Scan() {
			err := c.scan.Err()
			if err == nil {
				err = io.EOF
			}
			return "", err
		}
		data := bytes.TrimSpace(c.scan.Bytes())

		switch {
		case len(data) == 0:
			continue
		case bytes.Equal(data, []byte("ok")):
			c.ack(nil)
			continue
		case bytes.HasPrefix(data, []byte("error:")):
			c.ack(errors.New(strings.TrimSpace(string(data))))
			continue
		case bytes.HasPrefix(data, []byte("Grbl")), bytes.HasPrefix(data, []byte("GrblHAL")):
			select {
			case c.resetCh <- struct{}{}:
			default:
			}
			continue
		}

		return string(data), nil
	}
}

func (c *Conn) ack(err error) {
	select {
	case c.ackCh <- err:
	case <-c.closeCh:
	}
}
