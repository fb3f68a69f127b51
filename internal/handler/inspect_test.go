package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-vp8/internal/config"
	"github.com/rcarmo/go-vp8/internal/logging"
	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/header/headertest"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: "8080"},
		Decoder:  config.DecoderConfig{HeaderSizeFormula: "standard", MaxWidth: 4096, MaxHeight: 4096, SurfacePool: 4},
		Framing:  config.FramingConfig{Format: "raw", RTPMaxLate: 64, RTPClockRate: 90000},
		Security: config.SecurityConfig{MaxConnections: 4, MaxMessageSize: 1 << 20},
		Logging:  config.LoggingConfig{Level: "error", Format: "text"},
		Dump:     config.DumpConfig{Compress: "none"},
	}
}

// testReply mirrors the reply fields the tests inspect.
type testReply struct {
	Type       string `json:"type"`
	Framing    string `json:"framing"`
	HeaderSize string `json:"headerSize"`
	Error      string `json:"error"`
	Class      string `json:"class"`
	Stats      *struct {
		Decoded int `json:"decoded"`
		Dropped int `json:"dropped"`
	} `json:"stats"`
	Record *struct {
		Index   int    `json:"index"`
		Size    int    `json:"size"`
		Error   string `json:"error"`
		Dropped bool   `json:"dropped"`
		Result  *struct {
			Frame struct {
				Info struct {
					FrameType string `json:"frameType"`
					Width     int    `json:"width"`
					CropWidth int    `json:"cropWidth"`
				} `json:"info"`
			} `json:"frame"`
			Surface int `json:"surface"`
			Accel   *struct {
				Slice struct {
					DataOffset int `json:"dataOffset"`
				} `json:"slice"`
			} `json:"accel"`
		} `json:"result"`
	} `json:"record"`
}

func startServer(t *testing.T, cfg *config.Config) (*httptest.Server, *Inspector) {
	t.Helper()
	in := NewInspector(cfg, logging.New(io.Discard, logging.LevelError))
	srv := httptest.NewServer(in)
	t.Cleanup(srv.Close)
	return srv, in
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readReply(t *testing.T, ws *websocket.Conn) testReply {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var r testReply
	require.NoError(t, ws.ReadJSON(&r))
	return r
}

func TestInspect_RawFrames(t *testing.T) {
	srv, _ := startServer(t, testConfig())
	ws := dial(t, srv, "accel=true")

	hello := readReply(t, ws)
	assert.Equal(t, ReplyHello, hello.Type)
	assert.Equal(t, "raw", hello.Framing)
	assert.Equal(t, "standard", hello.HeaderSize)

	inter := headertest.InterFrame()
	key := headertest.KeyFrame(100, 50)
	for _, frame := range [][]byte{inter.Bytes(), key.Bytes(), inter.Bytes()} {
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, frame))
	}

	r := readReply(t, ws)
	assert.Equal(t, ReplyFrame, r.Type)
	require.NotNil(t, r.Record)
	assert.True(t, r.Record.Dropped)
	assert.Equal(t, "more-data", r.Class)
	assert.Nil(t, r.Record.Result)

	r = readReply(t, ws)
	require.NotNil(t, r.Record)
	require.NotNil(t, r.Record.Result)
	assert.Equal(t, 1, r.Record.Index)
	assert.Equal(t, "key", r.Record.Result.Frame.Info.FrameType)
	assert.Equal(t, 112, r.Record.Result.Frame.Info.Width)
	assert.Equal(t, 100, r.Record.Result.Frame.Info.CropWidth)
	require.NotNil(t, r.Record.Result.Accel)
	assert.Equal(t, vp8.KeyFrameHeaderSize, r.Record.Result.Accel.Slice.DataOffset)

	r = readReply(t, ws)
	require.NotNil(t, r.Record.Result)
	assert.Equal(t, "inter", r.Record.Result.Frame.Info.FrameType)
	assert.Equal(t, 1, r.Record.Result.Surface)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(CommandStats)))
	r = readReply(t, ws)
	assert.Equal(t, ReplyStats, r.Type)
	require.NotNil(t, r.Stats)
	assert.Equal(t, 2, r.Stats.Decoded)
	assert.Equal(t, 1, r.Stats.Dropped)
}

func TestInspect_ErrorClasses(t *testing.T) {
	srv, _ := startServer(t, testConfig())
	ws := dial(t, srv, "")
	readReply(t, ws)

	key := headertest.KeyFrame(16, 16).Bytes()
	bad := append([]byte(nil), key...)
	bad[3] = 0

	tests := []struct {
		name  string
		frame []byte
		class string
	}{
		{"truncated", key[:5], "more-data"},
		{"bad start code", bad, "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, tt.frame))
			r := readReply(t, ws)
			assert.Equal(t, tt.class, r.Class)
			require.NotNil(t, r.Record)
			assert.NotEmpty(t, r.Record.Error)
		})
	}
}

func TestInspect_RTP(t *testing.T) {
	srv, _ := startServer(t, testConfig())
	ws := dial(t, srv, "framing=rtp")

	hello := readReply(t, ws)
	assert.Equal(t, "rtp", hello.Framing)

	key := headertest.KeyFrame(64, 64)
	inter := headertest.InterFrame()
	p := rtp.NewPacketizer(20, 96, 1, &codecs.VP8Payloader{}, rtp.NewFixedSequencer(1), 90000)
	var packets []*rtp.Packet
	for _, frame := range [][]byte{key.Bytes(), inter.Bytes(), inter.Bytes()} {
		packets = append(packets, p.Packetize(frame, 3000)...)
	}
	for _, pkt := range packets {
		raw, err := pkt.Marshal()
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, raw))
	}

	r := readReply(t, ws)
	require.NotNil(t, r.Record)
	require.NotNil(t, r.Record.Result)
	assert.Equal(t, "key", r.Record.Result.Frame.Info.FrameType)

	r = readReply(t, ws)
	require.NotNil(t, r.Record.Result)
	assert.Equal(t, "inter", r.Record.Result.Frame.Info.FrameType)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0x80}))
	r = readReply(t, ws)
	assert.Equal(t, ReplyError, r.Type)
	assert.NotEmpty(t, r.Error)
}

func TestInspect_Commands(t *testing.T) {
	srv, _ := startServer(t, testConfig())
	ws := dial(t, srv, "header-size=legacy")

	hello := readReply(t, ws)
	assert.Equal(t, "legacy", hello.HeaderSize)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, headertest.KeyFrame(16, 16).Bytes()))
	r := readReply(t, ws)
	require.NotNil(t, r.Record.Result)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(" reset\n")))
	r = readReply(t, ws)
	assert.Equal(t, ReplyReset, r.Type)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, headertest.InterFrame().Bytes()))
	r = readReply(t, ws)
	assert.Equal(t, 0, r.Record.Index)
	assert.True(t, r.Record.Dropped, "reset waits for a new key frame")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("bogus")))
	r = readReply(t, ws)
	assert.Equal(t, ReplyError, r.Type)
	assert.Contains(t, r.Error, "bogus")
}

func TestInspect_SessionSize(t *testing.T) {
	srv, _ := startServer(t, testConfig())
	ws := dial(t, srv, "width=60&height=40")
	readReply(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, headertest.KeyFrame(64, 48).Bytes()))
	r := readReply(t, ws)
	require.NotNil(t, r.Record.Result)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, headertest.KeyFrame(128, 48).Bytes()))
	r = readReply(t, ws)
	assert.Equal(t, "unsupported", r.Class)
}

func TestInspect_LockSizeFromFirstKeyFrame(t *testing.T) {
	srv, _ := startServer(t, testConfig())
	ws := dial(t, srv, "lock-size=true")
	readReply(t, ws)

	for _, w := range []int{100, 112} {
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, headertest.KeyFrame(w, 48).Bytes()))
		r := readReply(t, ws)
		require.NotNil(t, r.Record.Result, "width %d pads to the locked 112", w)
	}

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, headertest.KeyFrame(64, 48).Bytes()))
	r := readReply(t, ws)
	assert.Nil(t, r.Record.Result)
	assert.Equal(t, "unsupported", r.Class)
	assert.Contains(t, r.Record.Error, "incompatible stream parameters")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(CommandReset)))
	assert.Equal(t, ReplyReset, readReply(t, ws).Type)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(CommandStats)))
	r = readReply(t, ws)
	require.NotNil(t, r.Stats)
	assert.Equal(t, 0, r.Stats.Decoded)

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, headertest.KeyFrame(64, 48).Bytes()))
	r = readReply(t, ws)
	assert.NotNil(t, r.Record.Result, "reset unlocks the size")
}

func TestInspect_BadRequest(t *testing.T) {
	in := NewInspector(testConfig(), logging.New(io.Discard, logging.LevelError))

	tests := []struct {
		name  string
		query string
	}{
		{"unknown framing", "framing=mkv"},
		{"ivf framing", "framing=ivf"},
		{"unknown header size", "header-size=odd"},
		{"zero width", "width=0"},
		{"negative height", "height=-4"},
		{"excessive width", "width=5000"},
		{"invalid accel", "accel=maybe"},
		{"invalid lock-size", "lock-size=maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/inspect?"+tt.query, nil)
			w := httptest.NewRecorder()

			in.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestInspect_ConnectionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.MaxConnections = 1
	srv, in := startServer(t, cfg)

	ws := dial(t, srv, "")
	readReply(t, ws)
	assert.Equal(t, int64(1), in.Active())

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestInspect_OriginRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Security.AllowedOrigins = []string{"https://good.example"}
	srv, _ := startServer(t, cfg)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://good.example"}})
	require.NoError(t, err)
	resp.Body.Close()
	ws.Close()
}

func TestIsAllowedOrigin(t *testing.T) {
	allowed := []string{"https://app.example.com", "tools.example.com"}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"https://app.example.com", true},
		{"https://app.example.com/", true},
		{"http://tools.example.com", true},
		{"https://evil.example.com", false},
		{"http://localhost", true},
		{"https://localhost.evil.com", false},
		{"http://127.0.0.1.evil.com", false},
		{"http://localhostevil.com", false},
		{"http://evil.com/localhost", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			assert.Equal(t, tt.want, isAllowedOrigin(tt.origin, allowed))
		})
	}

	assert.False(t, isAllowedOrigin("https://app.example.com", nil))
}

func TestErrorClass(t *testing.T) {
	assert.Equal(t, "more-data", errorClass(fmt.Errorf("x: %w", vp8.ErrMoreData)))
	assert.Equal(t, "malformed", errorClass(vp8.ErrMalformedStream))
	assert.Equal(t, "unsupported", errorClass(vp8.ErrUnsupportedFeature))
	assert.Equal(t, "invalid", errorClass(errors.New("other")))
}
