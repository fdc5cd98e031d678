package grbl

import (
	"io"

	"github.com/gorilla/websocket"
	"github.com/tarm/serial"
)

// Dial opens a direct serial connection to the controller.
func Dial(port string, baud int) (*Client, error) {
	s, err := serial.OpenPort(&serial.Config{Name: port, Baud: baud})
	if err != nil {
		return nil, err
	}
	return NewClient(s), nil
}

// DialWS connects to a websocket bridge that forwards raw controller
// traffic, one chunk per text message.
func DialWS(url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return NewClient(&wsTransport{ws: ws}), nil
}

// wsTransport adapts a websocket to the io.ReadWriter the Conn
// expects. Message boundaries carry no meaning; the line protocol is
// reassembled by the Conn's scanner.
type wsTransport struct {
	ws  *websocket.Conn
	buf []byte
}

var _ io.ReadWriteCloser = &wsTransport{}

func (t *wsTransport) Read(p []byte) (int, error) {
	if len(t.buf) == 0 {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		t.buf = data
	}
	n := copy(p, t.buf)
	t.buf = t.buf[n:]
	return n, nil
}

func (t *wsTransport) Write(p []byte) (int, error) {
	err := t.ws.WriteMessage(websocket.TextMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}
