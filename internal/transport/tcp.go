package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const (
	maxFrameSize     = 64 * 1024
	frameHeaderSize  = 4
	defaultQueueSize = 64
	writeTimeout     = 5 * time.Second
	dialTimeout      = 3 * time.Second
	minRedial        = 100 * time.Millisecond
	maxRedial        = 2 * time.Second
	minAcceptRetry   = 5 * time.Millisecond
	maxAcceptRetry   = time.Second
)

// Options tunes the TCP backend.
type Options struct {
	// DSCP marks heartbeat sockets with the given code point (0 leaves the
	// system default).
	DSCP int
	// QueueSize bounds frames buffered per peer before new ones are dropped.
	QueueSize int
}

func (o Options) queueSize() int {
	if o.QueueSize <= 0 {
		return defaultQueueSize
	}
	return o.QueueSize
}

// TCPPublisher accepts subscriber connections on a bound port and fans every
// published frame out to all of them.
type TCPPublisher struct {
	ln   net.Listener
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	peers  map[*peer]struct{}
	closed bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

type peer struct {
	conn      net.Conn
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// Bind listens on port for subscribers. It fails with a *BindError when the
// port is unavailable.
func Bind(port int, opts Options, log zerolog.Logger) (*TCPPublisher, error) {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, &BindError{Port: port, Err: err}
	}

	log.Debug().Str("addr", ln.Addr().String()).Msg("Publisher bound")
	return newTCPPublisher(ln, opts, log), nil
}

func newTCPPublisher(ln net.Listener, opts Options, log zerolog.Logger) *TCPPublisher {
	p := &TCPPublisher{
		ln:    ln,
		opts:  opts,
		log:   log,
		peers: make(map[*peer]struct{}),
		done:  make(chan struct{}),
	}

	p.wg.Add(1)
	go p.acceptLoop()
	return p
}

// Addr returns the bound listener address.
func (p *TCPPublisher) Addr() net.Addr {
	return p.ln.Addr()
}

func (p *TCPPublisher) acceptLoop() {
	defer p.wg.Done()

	var retry time.Duration
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			retry = min(max(2*retry, minAcceptRetry), maxAcceptRetry)
			p.log.Warn().Err(err).Dur("retry_in", retry).Msg("Accept failed")

			t := time.NewTimer(retry)
			select {
			case <-p.done:
				t.Stop()
				return
			case <-t.C:
			}
			continue
		}
		retry = 0

		setDSCP(conn, p.opts.DSCP, p.log)

		pr := &peer{
			conn: conn,
			out:  make(chan []byte, p.opts.queueSize()),
			done: make(chan struct{}),
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.peers[pr] = struct{}{}
		p.mu.Unlock()

		p.log.Debug().Str("peer", conn.RemoteAddr().String()).Msg("Subscriber connected")

		p.wg.Add(2)
		go p.writeLoop(pr)
		go p.watchPeer(pr)
	}
}

func (p *TCPPublisher) writeLoop(pr *peer) {
	defer p.wg.Done()
	defer p.remove(pr)

	for {
		select {
		case <-pr.done:
			return
		case frame := <-pr.out:
			if err := pr.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := writeFrame(pr.conn, frame); err != nil {
				p.log.Debug().Err(err).Str("peer", pr.conn.RemoteAddr().String()).Msg("Dropping subscriber")
				return
			}
		}
	}
}

// watchPeer notices a subscriber hanging up. Subscribers never send data.
func (p *TCPPublisher) watchPeer(pr *peer) {
	defer p.wg.Done()
	_, _ = io.Copy(io.Discard, pr.conn)
	p.remove(pr)
}

func (p *TCPPublisher) remove(pr *peer) {
	p.mu.Lock()
	delete(p.peers, pr)
	p.mu.Unlock()
	pr.close()
}

// Publish queues the frame for every connected subscriber. A subscriber
// whose queue is full misses this frame.
func (p *TCPPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	frame := encodeFrame(topic, payload)
	if len(frame) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(frame), maxFrameSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	for pr := range p.peers {
		select {
		case pr.out <- frame:
		default:
			p.log.Debug().Str("peer", pr.conn.RemoteAddr().String()).Msg("Subscriber queue full, frame dropped")
		}
	}
	return nil
}

// Close stops accepting subscribers and disconnects the existing ones.
func (p *TCPPublisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.done)
		peers := make([]*peer, 0, len(p.peers))
		for pr := range p.peers {
			peers = append(peers, pr)
		}
		p.mu.Unlock()

		p.closeErr = p.ln.Close()
		for _, pr := range peers {
			pr.close()
		}
		p.wg.Wait()
	})
	return p.closeErr
}

// TCPSubscriber keeps a connection to a TCPPublisher, redialling in the
// background whenever the publisher is absent.
type TCPSubscriber struct {
	addr    string
	topic   string
	timeout time.Duration
	opts    Options
	log     zerolog.Logger

	msgs   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	conn net.Conn

	closeOnce sync.Once
}

// Connect returns a subscriber for topic on host:port. It never fails: the
// publisher does not need to be reachable yet.
func Connect(host string, port int, topic string, timeout time.Duration, opts Options, log zerolog.Logger) *TCPSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &TCPSubscriber{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		topic:   topic,
		timeout: timeout,
		opts:    opts,
		log:     log,
		msgs:    make(chan []byte, opts.queueSize()),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.wg.Add(1)
	go s.run()
	return s
}

func (s *TCPSubscriber) run() {
	defer s.wg.Done()

	backoff := minRedial
	for {
		dialer := net.Dialer{Timeout: dialTimeout}
		conn, err := dialer.DialContext(s.ctx, "tcp", s.addr)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Debug().Err(err).Dur("retry_in", backoff).Msg("Publisher unreachable")
			if !s.sleep(backoff) {
				return
			}
			backoff = min(backoff*2, maxRedial)
			continue
		}
		backoff = minRedial

		if !s.setConn(conn) {
			conn.Close()
			return
		}
		setDSCP(conn, s.opts.DSCP, s.log)
		s.log.Debug().Str("addr", s.addr).Msg("Connected to publisher")

		s.readLoop(conn)

		s.setConn(nil)
		conn.Close()
		if s.ctx.Err() != nil {
			return
		}
	}
}

func (s *TCPSubscriber) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// setConn records the live connection so Close can interrupt its reader.
// It reports false when the subscriber was closed meanwhile.
func (s *TCPSubscriber) setConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn != nil && s.ctx.Err() != nil {
		return false
	}
	s.conn = conn
	return true
}

func (s *TCPSubscriber) readLoop(conn net.Conn) {
	br := bufio.NewReader(conn)
	for {
		frame, err := readFrame(br)
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Debug().Err(err).Str("addr", s.addr).Msg("Publisher connection lost")
			}
			return
		}

		payload, ok := matchFrame(frame, s.topic)
		if !ok {
			continue
		}

		select {
		case s.msgs <- payload:
		default:
			s.log.Debug().Msg("Receive queue full, frame dropped")
		}
	}
}

// Receive waits up to the configured timeout for a payload on the topic.
func (s *TCPSubscriber) Receive(ctx context.Context) ([]byte, error) {
	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case payload := <-s.msgs:
		return payload, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrClosed
	}
}

// Close stops the background dialer and drops the connection.
func (s *TCPSubscriber) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return nil
}

func writeFrame(w io.Writer, frame []byte) error {
	buf := make([]byte, frameHeaderSize+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[frameHeaderSize:], frame)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d", n, maxFrameSize)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// setDSCP marks conn's IPv4 traffic. IPv6 sockets report an error, which is
// logged and ignored.
func setDSCP(conn net.Conn, dscp int, log zerolog.Logger) {
	if dscp <= 0 {
		return
	}
	if err := ipv4.NewConn(conn).SetTOS(dscp << 2); err != nil {
		log.Warn().Err(err).Int("dscp", dscp).Msg("Failed to set DSCP")
	}
}
