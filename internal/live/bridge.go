package live

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// State is the connection state of the push channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

var errHandshakeUnauthorized = errors.New("push channel rejected credentials")

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	// URL is the ws:// or wss:// endpoint of the push channel.
	URL            string
	HTTPClient     *http.Client
	ReconnectDelay time.Duration
	// ReadLimit caps a single push message in bytes.
	ReadLimit int64
	// Unauthorized is called when the handshake is refused with 401/403.
	Unauthorized func()
	Logger       Logger
}

// Bridge keeps one authenticated websocket to the push channel and turns its
// messages into reader.FeedUpdate and reader.StateChange values on Events.
// It reconnects after transport errors and whenever the token changes.
type Bridge struct {
	opts      Options
	validator *validator

	tokens chan string
	events chan any

	mu      sync.Mutex
	token   string
	state   State
	subs    map[int]chan bool
	nextSub int
}

func New(opts Options) (*Bridge, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("live: push URL is required")
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &Bridge{
		opts:      opts,
		validator: v,
		tokens:    make(chan string, 1),
		events:    make(chan any, 64),
		subs:      map[int]chan bool{},
	}, nil
}

// SetToken hands a new credential to the bridge. An unchanged value is a
// no-op; a changed one closes the current connection and reopens with it.
func (b *Bridge) SetToken(token string) {
	b.mu.Lock()
	if token == b.token {
		b.mu.Unlock()
		return
	}
	b.token = token
	b.mu.Unlock()
	for {
		select {
		case b.tokens <- token:
			return
		default:
		}
		select {
		case <-b.tokens:
		default:
		}
	}
}

// Events delivers decoded push events in arrival order.
func (b *Bridge) Events() <-chan any {
	return b.events
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Connectivity subscribes to connected/disconnected transitions. The current
// value is delivered first.
func (b *Bridge) Connectivity() (<-chan bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan bool, 16)
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	ch <- b.state == Connected
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Run owns the connection until ctx is done. It waits for a token before the
// first dial.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.setState(Disconnected)
	token := ""
	for {
		if token == "" {
			select {
			case <-ctx.Done():
				return nil
			case token = <-b.tokens:
				continue
			}
		}

		connCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func(token string) {
			done <- b.session(connCtx, token)
		}(token)

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		case next := <-b.tokens:
			cancel()
			<-done
			b.setState(Disconnected)
			token = next
		case err := <-done:
			cancel()
			if errors.Is(err, errHandshakeUnauthorized) {
				b.logf("push channel: %v", err)
				b.setState(Disconnected)
				if b.opts.Unauthorized != nil {
					b.opts.Unauthorized()
				}
				// Wait for a different credential.
				token = ""
				continue
			}
			b.logf("push channel dropped: %v; reconnecting in %s", err, b.opts.ReconnectDelay)
			timer := time.NewTimer(b.opts.ReconnectDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case next := <-b.tokens:
				timer.Stop()
				token = next
			case <-timer.C:
			}
			b.setState(Disconnected)
		}
	}
}

func (b *Bridge) session(ctx context.Context, token string) error {
	b.setState(Connecting)
	conn, resp, err := websocket.Dial(ctx, b.opts.URL, &websocket.DialOptions{
		HTTPClient: b.opts.HTTPClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status %d", errHandshakeUnauthorized, resp.StatusCode)
		}
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(b.opts.ReadLimit)
	b.setState(Connected)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		event, err := b.validator.decode(data)
		if err != nil {
			var unknown errUnknownEvent
			if !errors.As(err, &unknown) {
				b.logf("push channel: dropping message: %v", err)
			}
			continue
		}
		select {
		case b.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bridge) setState(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == state {
		return
	}
	wasConnected := b.state == Connected
	b.state = state
	isConnected := state == Connected
	if wasConnected == isConnected {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- isConnected:
		default:
			// Drop the oldest transition rather than block the connection.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- isConnected:
			default:
			}
		}
	}
}

func (b *Bridge) logf(format string, args ...any) {
	if b.opts.Logger == nil {
		return
	}
	b.opts.Logger.Printf(format, args...)
}
