package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fluxorio/todosync/pkg/core"
	"github.com/fluxorio/todosync/pkg/feed"
	"github.com/fluxorio/todosync/pkg/todo"
	"github.com/gorilla/websocket"
)

const (
	pongWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// ErrStreamClosed ends a subscription whose websocket the server closed
var ErrStreamClosed = errors.New("client: realtime stream closed")

func (s *Store) streamURL(token string) (string, error) {
	if s.realtime == "" {
		return "", todo.Remotef("realtime url is not configured")
	}
	u, err := url.Parse(s.realtime)
	if err != nil {
		return "", todo.Remote(err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe opens the owner's change stream. Frames that do not decode as
// events are reported on the subscription's Rejects channel.
func (s *Store) Subscribe(ctx context.Context, ownerID string) (*feed.Subscription, error) {
	token, err := s.token(ownerID)
	if err != nil {
		return nil, err
	}
	target, err := s.streamURL(token)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if rid := core.GetRequestID(ctx); rid != "" {
		header.Set(core.RequestIDHeader, rid)
	}
	dialer := websocket.Dialer{HandshakeTimeout: s.timeout}
	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, todo.ErrUnauthenticated
		}
		return nil, todo.Remote(err)
	}

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = conn.Close()
		})
	}
	sub := feed.NewSubscription(ownerID, s.buffer, closeConn)

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Release()
		case <-sub.Done():
		}
	}()
	go s.read(conn, sub)
	return sub, nil
}

// read decodes frames into sub until the connection ends
func (s *Store) read(conn *websocket.Conn, sub *feed.Subscription) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-sub.Done():
			default:
				s.logger.Debug("realtime stream ended", "owner", sub.Owner(), "error", err)
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = ErrStreamClosed
				}
				sub.Fail(err)
			}
			return
		}

		ev, err := todo.DecodeEvent(data)
		if err != nil {
			sub.Reject(err)
			continue
		}
		if !sub.Deliver(ev) {
			return
		}
	}
}
