package detect

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/dunamismax/facewarp/internal/raster"
	"github.com/gorilla/websocket"
)

// WebSocketRuntime streams JPEG frames over one long-lived connection and reads
// one JSON array of detections back per frame. It keeps a single frame in
// flight and is only safe behind a Detector.
type WebSocketRuntime struct {
	url          string
	dialer       *websocket.Dialer
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
	jpegQuality  int
}

func NewWebSocketRuntime(url string, timeout time.Duration) (*WebSocketRuntime, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: inference websocket url is required", ErrModelUnavailable)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = timeout

	return &WebSocketRuntime{
		url:          url,
		dialer:       &dialer,
		writeTimeout: 5 * time.Second,
		readTimeout:  timeout,
		jpegQuality:  90,
	}, nil
}

func (r *WebSocketRuntime) connect(ctx context.Context) (*websocket.Conn, error) {
	if r.conn != nil {
		return r.conn, nil
	}

	conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrModelUnavailable, r.url, err)
	}
	r.conn = conn
	return conn, nil
}

func (r *WebSocketRuntime) drop() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *WebSocketRuntime) Infer(ctx context.Context, buf *raster.Buffer) ([]Detection, error) {
	var frame bytes.Buffer
	if err := jpeg.Encode(&frame, buf.ToRGBA(), &jpeg.Options{Quality: r.jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	conn, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame.Bytes()); err != nil {
		r.drop()
		return nil, fmt.Errorf("%w: send frame: %v", ErrModelUnavailable, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(r.readTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		r.drop()
		return nil, fmt.Errorf("%w: read detections: %v", ErrModelUnavailable, err)
	}

	var dets []Detection
	if err := json.Unmarshal(message, &dets); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return dets, nil
}

// Ping dials when needed and sends a control ping on the connection.
func (r *WebSocketRuntime) Ping(ctx context.Context) error {
	conn, err := r.connect(ctx)
	if err != nil {
		return err
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(r.writeTimeout)); err != nil {
		r.drop()
		return fmt.Errorf("%w: ping: %v", ErrModelUnavailable, err)
	}
	return nil
}

func (r *WebSocketRuntime) Close() error {
	if r.conn == nil {
		return nil
	}
	_ = r.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(r.writeTimeout),
	)
	err := r.conn.Close()
	r.conn = nil
	return err
}
