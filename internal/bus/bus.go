// Package bus moves wire frames between processes over nanomsg-style
// PUB/SUB sockets (mangos), and fans them out again inside a process.
//
// Addresses are nanomsg URLs: ipc:///tmp/pigeon.ipc, tcp://127.0.0.1:9001,
// or inproc://name within one process. Subscribers never filter by topic;
// consumers pick kinds after decoding.
package bus

import (
	"errors"
	"fmt"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// register ipc, tcp, inproc and websocket transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/pigeon9001/pigeon/internal/wire"
)

// ErrClosed is returned by operations on a closed endpoint.
var ErrClosed = mangos.ErrClosed

// Forwarder accepts frames on a best-effort basis. TryPublish must never
// block the caller and never reports failure.
type Forwarder interface {
	TryPublish(frame []byte)
}

// Publisher is a bound publish endpoint.
type Publisher struct {
	sock mangos.Socket
	addr string
}

// Listen binds a publish endpoint at addr.
func Listen(addr string) (*Publisher, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create pub socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return &Publisher{sock: sock, addr: addr}, nil
}

// Addr returns the address the publisher is bound to.
func (p *Publisher) Addr() string {
	return p.addr
}

// Publish sends one frame to every connected subscriber and reports any
// socket failure. Producers treat a failure as fatal.
func (p *Publisher) Publish(frame []byte) error {
	if err := p.sock.Send(frame); err != nil {
		return fmt.Errorf("publish on %s: %w", p.addr, err)
	}
	return nil
}

// PublishMessage encodes m and publishes it.
func (p *Publisher) PublishMessage(m wire.Message) error {
	var buf [wire.FrameSize]byte
	n, err := wire.EncodeTo(buf[:], m)
	if err != nil {
		return err
	}
	return p.Publish(buf[:n])
}

// TryPublish forwards a frame and drops it silently on any failure.
func (p *Publisher) TryPublish(frame []byte) {
	_ = p.sock.Send(frame)
}

// Close releases the socket.
func (p *Publisher) Close() error {
	return p.sock.Close()
}

// Subscriber receives every frame from a set of publishers.
type Subscriber struct {
	sock mangos.Socket
}

// Dial opens a subscribe endpoint connected to each address. Connections are
// made in the background, so publishers may come up after the subscriber.
func Dial(addrs []string) (*Subscriber, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create sub socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionSubscribe, []byte{}); err != nil {
		sock.Close()
		return nil, fmt.Errorf("subscribe to all topics: %w", err)
	}
	for _, addr := range addrs {
		if err := sock.DialOptions(addr, map[string]interface{}{mangos.OptionDialAsynch: true}); err != nil {
			sock.Close()
			return nil, fmt.Errorf("connect %s: %w", addr, err)
		}
	}
	return &Subscriber{sock: sock}, nil
}

// Receive blocks until one frame arrives. Any error is structural: the
// socket is closed or broken and will not recover.
func (s *Subscriber) Receive() ([]byte, error) {
	frame, err := s.sock.Recv()
	if err != nil {
		if errors.Is(err, mangos.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("receive: %w", err)
	}
	return frame, nil
}

// Close releases the socket and unblocks a pending Receive.
func (s *Subscriber) Close() error {
	return s.sock.Close()
}

// Tee returns a Forwarder that hands every frame to each of fwds in order.
// Nil entries are skipped.
func Tee(fwds ...Forwarder) Forwarder {
	var live multiForwarder
	for _, f := range fwds {
		if f != nil {
			live = append(live, f)
		}
	}
	return live
}

type multiForwarder []Forwarder

func (m multiForwarder) TryPublish(frame []byte) {
	for _, f := range m {
		f.TryPublish(frame)
	}
}
