package protocol

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

type PtclConfig struct {
	Shard   string
	Url     string
	Reconn  uint
	Timeout time.Duration
	EmitOut func(*Message)
}

// Protocol speaks the hub's colon-separated TO:VERB:NOUN[:ARGS...]:FROM frames
// over a websocket.
type Protocol struct {
	ws *WebSocket

	shard   string
	timeout time.Duration

	waiterMu sync.Mutex
	waiter   chan *Message

	emitOut func(*Message)
}

var ErrNoReply = errors.New("hub did not reply")

func NewProtocol(cfg PtclConfig) (*Protocol, error) {
	ws, err := NewWebSocket(cfg.Url, cfg.Reconn, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", cfg.Url, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ptcl := &Protocol{
		shard:   cfg.Shard,
		timeout: timeout,
		ws:      ws,
		emitOut: cfg.EmitOut,
	}

	return ptcl, nil
}

func (ptcl *Protocol) EmitOut(f func(*Message)) {
	ptcl.emitOut = f
}

func (ptcl *Protocol) Close() error {
	return ptcl.ws.Close()
}

// TransmitReceive sends v and waits for the next frame addressed to this
// shard, bounded by ctx and the configured timeout.
func (ptcl *Protocol) TransmitReceive(ctx context.Context, v any) (*Message, error) {
	w := ptcl.installWaiter()
	defer ptcl.clearWaiter()

	if err := ptcl.Transmit(v); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, ptcl.timeout)
	defer cancel()

	select {
	case resp := <-w:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNoReply, ctx.Err())
	}
}

func (ptcl *Protocol) Transmit(v any) error {
	msg, err := ptcl.Encode(v)
	if err != nil {
		return err
	}

	if err := ptcl.ws.Write([]byte(msg)); err != nil {
		log.Error("Failed to transmit", "msg", msg, "err", err)
		return err
	}
	return nil
}

// Encode renders v as a frame from this shard.
func (ptcl *Protocol) Encode(v any) (string, error) {
	switch m := v.(type) {
	case Message:
		m.From = ptcl.shard
		return m.String(), nil
	case *Message:
		c := *m
		c.From = ptcl.shard
		return c.String(), nil
	case string:
		return fmt.Sprintf("%s:%s", m, ptcl.shard), nil
	case []string:
		return fmt.Sprintf("%s:%s", strings.Join(m, ":"), ptcl.shard), nil
	default:
		return "", fmt.Errorf("unsupported frame type %T", v)
	}
}

// Run reads frames until ctx is done, handing replies to a waiting
// TransmitReceive and everything else to EmitOut.
func (ptcl *Protocol) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		ptcl.ws.Close()
	}()

	for ctx.Err() == nil {
		in := ptcl.ws.Read()
		switch in.kind {
		case CONN_CLOSE:
			if ctx.Err() != nil {
				return
			}
			log.Warn("Trying to reconnect on", "url", ptcl.ws.url)
			if err := ptcl.ws.TryReconn(ctx); err != nil {
				return
			}
			log.Info("Succefully reconnected")

		case READ_FAILURE:
			if ctx.Err() != nil {
				return
			}
			log.Error("Failed to read", "err", in.err)

		case READ_OK:
			ptcl.dispatch(in.msg)
		}
	}
}

func (ptcl *Protocol) dispatch(raw []byte) {
	if !ptcl.checkRecipient(raw) {
		return
	}

	msg, err := ptcl.Parse(string(raw))
	if err != nil {
		log.Warn("Failed to parse", "msg", string(raw), "err", err)
		return
	}

	if w := ptcl.currentWaiter(); w != nil {
		select {
		case w <- msg:
		default:
		}
	} else if ptcl.emitOut != nil {
		ptcl.emitOut(msg)
	}
}

func (ptcl *Protocol) installWaiter() chan *Message {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	ptcl.waiter = make(chan *Message, 1)
	return ptcl.waiter
}

func (ptcl *Protocol) clearWaiter() {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	ptcl.waiter = nil
}

func (ptcl *Protocol) currentWaiter() chan *Message {
	ptcl.waiterMu.Lock()
	defer ptcl.waiterMu.Unlock()
	return ptcl.waiter
}

func (ptcl *Protocol) checkRecipient(msg []byte) bool {
	return strings.Split(string(msg), ":")[0] == ptcl.shard
}

func (ptcl *Protocol) Parse(line string) (*Message, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, errors.New("empty message")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		// spaces not allowed (UART/WebSocket frames are single-line)
		return nil, fmt.Errorf("invalid whitespace present")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return nil, fmt.Errorf("too few fields: got %d, want >= 4", len(parts))
	}

	to := parts[0]
	verb := parts[1]
	noun := parts[2]
	from := parts[len(parts)-1]
	args := append([]string(nil), parts[3:len(parts)-1]...)

	if !isToken(to) && !isHexID(to) && to != "ALL" {
		return nil, fmt.Errorf("invalid TO token: %q", to)
	}
	if !isToken(from) && !isHexID(from) {
		return nil, fmt.Errorf("invalid FROM token: %q", from)
	}

	if !isToken(noun) || !isToken(verb) {
		return nil, fmt.Errorf("invalid NOUN/VERB: %q %q", noun, verb)
	}
	for i, a := range args {
		if !isToken(a) {
			return nil, fmt.Errorf("invalid ARG[%d]: %q", i, a)
		}
	}

	msg := &Message{
		To:   to,
		Verb: strings.ToUpper(verb),
		Noun: strings.ToUpper(noun),
		Args: args,
		From: from,
	}
	return msg, nil
}

var (
	tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	hexIDRe = regexp.MustCompile(`^[0-9A-F]{2}$`)
)

func isToken(s string) bool {
	return tokenRe.MatchString(s)
}

func isHexID(s string) bool {
	return hexIDRe.MatchString(strings.ToUpper(s))
}

type Message struct {
	To   string
	Verb string
	Noun string
	Args []string
	From string
}

func (m *Message) String() string {
	parts := make([]string, 0, 4+len(m.Args))
	parts = append(parts, m.To)
	parts = append(parts, m.Verb)
	parts = append(parts, m.Noun)
	parts = append(parts, m.Args...)
	parts = append(parts, m.From)
	return strings.Join(parts, ":")
}

func (m *Message) Error(reason string, args ...string) {
	m.Verb = "ERR"
	m.Noun = reason
	m.Args = args
}

func (m *Message) Ok(reason string, args ...string) {
	m.Verb = "OK"
	m.Noun = reason
	m.Args = args
}
