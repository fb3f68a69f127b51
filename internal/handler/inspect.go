package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/rcarmo/go-vp8/internal/config"
	"github.com/rcarmo/go-vp8/internal/dump"
	"github.com/rcarmo/go-vp8/internal/framing"
	"github.com/rcarmo/go-vp8/internal/logging"
	"github.com/rcarmo/go-vp8/internal/session"
	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/header"
)

const (
	webSocketReadBufferSize  = 8192 * 8
	webSocketWriteBufferSize = 8192 * 2
)

// Reply types.
const (
	ReplyHello = "hello"
	ReplyFrame = "frame"
	ReplyStats = "stats"
	ReplyReset = "reset"
	ReplyError = "error"
)

// Text commands.
const (
	CommandStats = "stats"
	CommandReset = "reset"
)

// Reply is one text message sent to the client.
type Reply struct {
	Type string `json:"type"`

	Framing    framing.Kind `json:"framing,omitempty"`
	HeaderSize string       `json:"headerSize,omitempty"`

	Record *dump.Record   `json:"record,omitempty"`
	Stats  *session.Stats `json:"stats,omitempty"`
	Error  string         `json:"error,omitempty"`
	Class  string         `json:"class,omitempty"`
}

// Inspector serves the websocket inspection endpoint. Each connection gets
// its own decode session; binary messages carry one compressed frame each,
// or one RTP packet each when the connection uses RTP framing.
type Inspector struct {
	cfg    *config.Config
	log    *logging.Logger
	active atomic.Int64
}

// NewInspector returns an inspector using cfg.
func NewInspector(cfg *config.Config, l *logging.Logger) *Inspector {
	if l == nil {
		l = logging.Default()
	}
	return &Inspector{cfg: cfg, log: l.WithPrefix("inspect")}
}

// Active returns the number of open connections.
func (in *Inspector) Active() int64 { return in.active.Load() }

func (in *Inspector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, opts, err := in.connectionOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if in.active.Add(1) > int64(in.cfg.Security.MaxConnections) {
		in.active.Add(-1)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer in.active.Add(-1)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  webSocketReadBufferSize,
		WriteBufferSize: webSocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isAllowedOrigin(r.Header.Get("Origin"), in.cfg.Security.AllowedOrigins)
		},
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		in.log.Warn("upgrade websocket: %v", err)
		return
	}

	defer func() {
		if err = wsConn.Close(); err != nil {
			in.log.Debug("closing websocket: %v", err)
		}
	}()

	wsConn.SetReadLimit(in.cfg.Security.MaxMessageSize)

	sess := session.New(opts)
	defer sess.Close()

	c := &conn{
		ws:      wsConn,
		log:     in.log,
		kind:    kind,
		session: sess,
	}
	if kind == framing.KindRTP {
		c.rtpOpts = in.cfg.RTPOptions()
		c.rtpOpts.Logger = in.log
		c.rtp = framing.NewRTPAssembler(c.rtpOpts)
	}

	in.log.Info("%s connected (framing=%s)", r.RemoteAddr, kind)
	c.serve(opts.Formula)
	in.log.Info("%s disconnected after %d frames", r.RemoteAddr, c.index)
}

// connectionOptions reads the per-connection query parameters: framing,
// header-size, width, height, lock-size and accel.
func (in *Inspector) connectionOptions(r *http.Request) (framing.Kind, session.Options, error) {
	q := r.URL.Query()
	opts := in.cfg.SessionOptions()
	opts.Logger = in.log

	name := q.Get("framing")
	if name == "" {
		name = in.cfg.Framing.Format
	}
	kind, err := framing.ParseKind(name)
	if err != nil {
		return "", opts, err
	}
	if kind == framing.KindIVF {
		return "", opts, fmt.Errorf("ivf framing is not supported over websocket")
	}

	if s := q.Get("header-size"); s != "" {
		if opts.Formula, err = header.ParseHeaderSizeFormula(s); err != nil {
			return "", opts, err
		}
	}

	for _, p := range []struct {
		name string
		dst  *int
		max  int
	}{
		{"width", &opts.Width, opts.MaxWidth},
		{"height", &opts.Height, opts.MaxHeight},
	} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > p.max {
			return "", opts, fmt.Errorf("invalid %s: %q", p.name, s)
		}
		*p.dst = (v + 15) &^ 15
	}

	if s := q.Get("lock-size"); s != "" {
		if opts.LockSize, err = strconv.ParseBool(s); err != nil {
			return "", opts, fmt.Errorf("invalid lock-size: %q", s)
		}
	}

	if s := q.Get("accel"); s != "" {
		if opts.Accel, err = strconv.ParseBool(s); err != nil {
			return "", opts, fmt.Errorf("invalid accel: %q", s)
		}
	}

	return kind, opts, nil
}

type conn struct {
	ws      *websocket.Conn
	log     *logging.Logger
	kind    framing.Kind
	session *session.Session
	rtp     *framing.RTPAssembler
	rtpOpts framing.RTPOptions
	index   int
}

func (c *conn) serve(formula header.HeaderSizeFormula) {
	if err := c.send(&Reply{Type: ReplyHello, Framing: c.kind, HeaderSize: formula.String()}); err != nil {
		return
	}

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("error reading message from ws: %v", err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			err = c.handleBinary(data)
		case websocket.TextMessage:
			err = c.handleCommand(strings.TrimSpace(string(data)))
		}
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				c.log.Warn("failed sending message to ws: %v", err)
			}
			return
		}
	}
}

func (c *conn) handleBinary(data []byte) error {
	if c.rtp == nil {
		return c.decode(&framing.Frame{Data: data})
	}

	if err := c.rtp.Push(data); err != nil {
		return c.send(&Reply{Type: ReplyError, Error: err.Error(), Class: errorClass(err)})
	}
	for f := c.rtp.Pop(); f != nil; f = c.rtp.Pop() {
		if err := c.decode(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) decode(f *framing.Frame) error {
	res, err := c.session.Decode(f.Data)
	rec := dump.NewRecord(c.index, f, res, err)
	c.index++

	reply := &Reply{Type: ReplyFrame, Record: rec}
	if err != nil {
		reply.Class = errorClass(err)
	}
	return c.send(reply)
}

func (c *conn) handleCommand(cmd string) error {
	switch cmd {
	case CommandStats:
		stats := c.session.Stats()
		return c.send(&Reply{Type: ReplyStats, Stats: &stats})
	case CommandReset:
		c.session.Reset()
		if c.kind == framing.KindRTP {
			c.rtp = framing.NewRTPAssembler(c.rtpOpts)
		}
		c.index = 0
		return c.send(&Reply{Type: ReplyReset})
	default:
		return c.send(&Reply{Type: ReplyError, Error: fmt.Sprintf("unknown command %q", cmd)})
	}
}

func (c *conn) send(r *Reply) error {
	return c.ws.WriteJSON(r)
}

// errorClass names the error taxonomy class of err.
func errorClass(err error) string {
	switch {
	case errors.Is(err, vp8.ErrMoreData):
		return "more-data"
	case errors.Is(err, vp8.ErrMalformedStream):
		return "malformed"
	case errors.Is(err, vp8.ErrUnsupportedFeature):
		return "unsupported"
	default:
		return "invalid"
	}
}

func isAllowedOrigin(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}

	normalized := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	normalized = strings.TrimSuffix(normalized, "/")

	// Always allow localhost origins for development, even when a list is provided
	if u, err := url.Parse(origin); err == nil {
		switch u.Hostname() {
		case "localhost", "127.0.0.1":
			return true
		}
	}

	for _, entry := range allowed {
		candidate := strings.TrimSpace(entry)
		if candidate == "" {
			continue
		}

		// Support allow-list entries with or without scheme
		if candidate == origin || candidate == normalized {
			return true
		}

		if strings.TrimPrefix(candidate, "http://") == normalized || strings.TrimPrefix(candidate, "https://") == normalized {
			return true
		}
	}

	return false
}
