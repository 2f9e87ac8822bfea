package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"memorylane/internal/backend"
	"memorylane/internal/models"
)

// Subscribe implements backend.Store. A failed initial handshake is returned;
// later connection losses are reported as error snapshots while the feed
// reconnects with exponential backoff.
func (c *Client) Subscribe(ctx context.Context, kind models.Kind, filter string) (backend.Feed, error) {
	u, err := c.wsURL(string(kind), filter)
	if err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx, u)
	if err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	f := &feed{
		client: c,
		url:    u,
		ctx:    feedCtx,
		cancel: cancel,
		ch:     make(chan backend.RawSnapshot, 1),
		conn:   conn,
	}
	go f.run(conn)
	return f, nil
}

func (c *Client) dial(ctx context.Context, u string) (*websocket.Conn, error) {
	header := http.Header{}
	if token := c.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, &StatusError{Code: resp.StatusCode, Message: "websocket handshake failed"}
		}
		return nil, err
	}
	return conn, nil
}

type feed struct {
	client *Client
	url    string
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan backend.RawSnapshot

	mu   sync.Mutex
	conn *websocket.Conn
	once sync.Once
}

func (f *feed) Snapshots() <-chan backend.RawSnapshot {
	return f.ch
}

func (f *feed) Close() error {
	f.once.Do(func() {
		f.cancel()
		f.mu.Lock()
		if f.conn != nil {
			f.conn.Close()
		}
		f.mu.Unlock()
	})
	return nil
}

func (f *feed) run(conn *websocket.Conn) {
	defer close(f.ch)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	for {
		err := f.read(conn)
		conn.Close()
		if f.ctx.Err() != nil {
			return
		}
		f.push(backend.RawSnapshot{Err: err})

		conn = f.reconnect(b)
		if conn == nil {
			return
		}
		b.Reset()
	}
}

func (f *feed) read(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame backend.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			f.push(backend.RawSnapshot{Err: err})
			continue
		}
		if frame.Error != "" {
			f.push(backend.RawSnapshot{Err: errors.New(frame.Error)})
			continue
		}
		f.push(backend.RawSnapshot{Records: frame.Records})
	}
}

// reconnect dials until it succeeds or the feed is closed, which yields nil.
func (f *feed) reconnect(b backoff.BackOff) *websocket.Conn {
	for {
		select {
		case <-f.ctx.Done():
			return nil
		case <-time.After(b.NextBackOff()):
		}
		conn, err := f.client.dial(f.ctx, f.url)
		if err != nil {
			log.Printf("[Gateway] reconnect failed url=%s: %v", f.url, err)
			continue
		}
		f.mu.Lock()
		if f.ctx.Err() != nil {
			f.mu.Unlock()
			conn.Close()
			return nil
		}
		f.conn = conn
		f.mu.Unlock()
		return conn
	}
}

// push keeps only the newest snapshot when the reader lags.
func (f *feed) push(snap backend.RawSnapshot) {
	select {
	case f.ch <- snap:
	default:
		select {
		case <-f.ch:
		default:
		}
		select {
		case f.ch <- snap:
		default:
		}
	}
}
