package dist

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	collectivePath = "/collective"

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1 << 28
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 16,
	WriteBufferSize: 1 << 16,
}

// Coordinator hosts a process group over websockets. Rank 0 runs the
// Coordinator in-process; every other rank connects with Dial and
// forwards its collectives to the Coordinator, which evaluates them
// and replies with the result.
type Coordinator struct {
	hub     *hub
	opts    options
	ln      net.Listener
	server  *http.Server
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	joined  chan struct{}
	closeMu sync.Once

	mu    sync.Mutex
	conns map[int]*websocket.Conn
}

// Listen starts a Coordinator for a group of the given size on addr
// (host:port). Use Accept to wait for the other ranks.
func Listen(ctx context.Context, addr string, size int,
	opts ...Option) (*Coordinator, error) {
	if size <= 0 {
		return nil, fmt.Errorf("listen: group size must be positive, got %v",
			size)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	o := newOptions(opts)
	ctx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(ctx)

	c := &Coordinator{
		hub:    newHub(size, o.logger),
		opts:   o,
		ln:     ln,
		group:  group,
		ctx:    groupCtx,
		cancel: cancel,
		joined: make(chan struct{}, size),
		conns:  make(map[int]*websocket.Conn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(collectivePath, c.serveRank)
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: writeWait}

	group.Go(func() error {
		if err := c.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	o.logger.Info("coordinator listening", zap.String("addr", c.Addr()),
		zap.Int("size", size))
	return c, nil
}

// Addr returns the address the Coordinator listens on
func (c *Coordinator) Addr() string {
	return c.ln.Addr().String()
}

// Accept blocks until every other rank has connected and returns the
// handle of rank 0. Closing the handle shuts down the Coordinator.
func (c *Coordinator) Accept(ctx context.Context) (Comm, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	for joined := 1; joined < c.hub.size; joined++ {
		select {
		case <-c.joined:
		case <-ctx.Done():
			return nil, desyncf("accept: %d of %d ranks joined: %v", joined,
				c.hub.size, ctx.Err())
		}
	}

	c.opts.logger.Info("all ranks joined", zap.Int("size", c.hub.size))
	return &coordinatorComm{
		localComm: localComm{hub: c.hub, rank: 0, timeout: c.opts.timeout},
		coord:     c,
	}, nil
}

// Close removes rank 0 from the group, disconnects every rank, and
// stops the server.
func (c *Coordinator) Close() error {
	var err error
	c.closeMu.Do(func() {
		c.hub.leave(0)
		c.cancel()

		c.mu.Lock()
		for _, conn := range c.conns {
			conn.Close()
		}
		c.mu.Unlock()

		if closeErr := c.server.Close(); closeErr != nil {
			err = closeErr
		}
		if waitErr := c.group.Wait(); waitErr != nil && err == nil {
			err = waitErr
		}
	})
	return err
}

// serveRank upgrades the connection of a joining rank and relays its
// collectives to the hub until it disconnects.
func (c *Coordinator) serveRank(w http.ResponseWriter, r *http.Request) {
	rank, err := strconv.Atoi(r.URL.Query().Get("rank"))
	if err != nil || rank <= 0 || rank >= c.hub.size {
		http.Error(w, fmt.Sprintf("illegal rank %q", r.URL.Query().Get("rank")),
			http.StatusBadRequest)
		return
	}
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil || size != c.hub.size {
		http.Error(w, fmt.Sprintf("group has size %d", c.hub.size),
			http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	if _, ok := c.conns[rank]; ok {
		c.mu.Unlock()
		http.Error(w, fmt.Sprintf("rank %d already joined", rank),
			http.StatusConflict)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.mu.Unlock()
		c.opts.logger.Warn("upgrade failed", zap.Int("rank", rank),
			zap.Error(err))
		return
	}
	c.conns[rank] = conn
	c.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	c.opts.logger.Info("rank joined", zap.Int("rank", rank),
		zap.String("remote", conn.RemoteAddr().String()))
	c.joined <- struct{}{}

	defer conn.Close()
	defer c.hub.leave(rank)

	if err := c.relay(conn, rank); err != nil && c.ctx.Err() == nil {
		c.opts.logger.Error("rank disconnected", zap.Int("rank", rank),
			zap.Error(err))
	}
}

// relay forwards the collectives of one rank to the hub
func (c *Coordinator) relay(conn *websocket.Conn, rank int) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		var req request
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&req); err != nil {
			return fmt.Errorf("relay: decode: %w", err)
		}
		if req.Rank != rank {
			return fmt.Errorf("relay: rank %d sent request as rank %d", rank,
				req.Rank)
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.opts.timeout)
		result, err := c.hub.submit(ctx, &req)
		cancel()

		rep := reply{Seq: req.Seq, Data: result}
		if err != nil {
			rep.Err = err.Error()
		}
		if err := writeGob(conn, rep); err != nil {
			return fmt.Errorf("relay: %w", err)
		}
	}
}

// coordinatorComm is the handle of rank 0, which talks to the hub
// directly
type coordinatorComm struct {
	localComm
	coord *Coordinator
}

// Close implements the Comm interface
func (c *coordinatorComm) Close() error {
	return c.coord.Close()
}

// wsComm is the handle of a rank connected to a Coordinator
type wsComm struct {
	conn    *websocket.Conn
	rank    int
	size    int
	seq     uint64
	timeout time.Duration
	logger  *zap.Logger
}

// Dial connects the given rank to the Coordinator at addr (host:port)
func Dial(ctx context.Context, addr string, rank, size int,
	opts ...Option) (Comm, error) {
	if rank <= 0 || rank >= size {
		return nil, fmt.Errorf("dial: rank %d not in [1, %d)", rank, size)
	}
	o := newOptions(opts)

	u := url.URL{
		Scheme:   "ws",
		Host:     addr,
		Path:     collectivePath,
		RawQuery: fmt.Sprintf("rank=%d&size=%d", rank, size),
	}
	dialer := websocket.Dialer{HandshakeTimeout: o.timeout}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	o.logger.Info("joined process group", zap.String("coordinator", addr),
		zap.Int("rank", rank), zap.Int("size", size))
	return &wsComm{
		conn:    conn,
		rank:    rank,
		size:    size,
		timeout: o.timeout,
		logger:  o.logger,
	}, nil
}

// Rank implements the Comm interface
func (c *wsComm) Rank() int { return c.rank }

// Size implements the Comm interface
func (c *wsComm) Size() int { return c.size }

// Broadcast implements the Comm interface
func (c *wsComm) Broadcast(ctx context.Context, root int,
	buf []float64) error {
	return c.collective(ctx, OpBroadcast, root, buf)
}

// AllReduceMean implements the Comm interface
func (c *wsComm) AllReduceMean(ctx context.Context, buf []float64) error {
	return c.collective(ctx, OpMean, 0, buf)
}

// AllReduceSum implements the Comm interface
func (c *wsComm) AllReduceSum(ctx context.Context, buf []float64) error {
	return c.collective(ctx, OpSum, 0, buf)
}

// Close implements the Comm interface
func (c *wsComm) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(writeWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg,
		deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("close message not sent", zap.Error(err))
	}
	return c.conn.Close()
}

func (c *wsComm) collective(ctx context.Context, op Op, root int,
	buf []float64) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.seq++
	req := request{Seq: c.seq, Op: op, Root: root, Rank: c.rank, Data: buf}

	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%v: %w", op, desyncf("%v", err))
	}
	if err := writeGob(c.conn, req); err != nil {
		return fmt.Errorf("%v: %w", op, desyncf("%v", err))
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%v: %w", op, desyncf("%v", err))
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%v: %w", op, desyncf("%v", err))
	}

	var rep reply
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rep); err != nil {
		return fmt.Errorf("%v: decode: %w", op, err)
	}
	if rep.Err != "" {
		return fmt.Errorf("%v: %w", op, desyncf("coordinator: %s", rep.Err))
	}
	if rep.Seq != c.seq || len(rep.Data) != len(buf) {
		return fmt.Errorf("%v: %w", op, desyncf("reply seq %d (%d values), "+
			"want seq %d (%d values)", rep.Seq, len(rep.Data), c.seq,
			len(buf)))
	}
	copy(buf, rep.Data)
	return nil
}

// writeGob writes v to the connection as one binary message
func writeGob(conn *websocket.Conn, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}
