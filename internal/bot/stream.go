package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	appLog "plannerbot/internal/log"
	"plannerbot/internal/model"
)

// ErrBadFrame wraps a pushed frame that does not decode as a plan. The
// stream is still usable after it.
var ErrBadFrame = errors.New("bot: undecodable push frame")

// Stream is the server-push channel at /planner. Each data frame carries one
// plan as JSON. The client never sends data.
type Stream struct {
	conn net.Conn
	rw   io.ReadWriter

	closeOnce sync.Once
	closeErr  error
}

func (c *Client) streamURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/planner"
	u.RawQuery = ""
	return u.String()
}

// DialStream opens the push channel for cred.
func (c *Client) DialStream(ctx context.Context, cred Credentials) (*Stream, error) {
	h := http.Header{}
	h.Set("device", cred.Device)
	h.Set("token", cred.Token)

	d := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(h),
		Timeout: 15 * time.Second,
	}

	target := c.streamURL()
	conn, br, _, err := d.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", appLog.RedactURL(target), err)
	}

	// br holds bytes the server sent right after the handshake, if any.
	var r io.Reader = conn
	if br != nil {
		r = br
	}

	appLog.Info("push stream connected", "url", appLog.RedactURL(target))
	return &Stream{
		conn: conn,
		rw: struct {
			io.Reader
			io.Writer
		}{r, conn},
	}, nil
}

// Next blocks until the server pushes a plan. Pings are answered inline. It
// returns io.EOF once the server closes the stream and ErrBadFrame for a
// frame that fails to decode.
func (s *Stream) Next() (model.Event, error) {
	for {
		data, op, err := wsutil.ReadServerData(s.rw)
		if err != nil {
			var closed wsutil.ClosedError
			if errors.As(err, &closed) {
				return model.Event{}, io.EOF
			}
			return model.Event{}, err
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}

		var e model.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return model.Event{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		return e, nil
	}
}

// Close sends a normal close frame and releases the connection. A blocked
// Next returns once the connection is closed.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
