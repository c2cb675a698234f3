// Package ipc carries one JSON request and one JSON reply per unix socket
// connection between aide-ctl and the daemon.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocketPath = "/tmp/aide.sock"

type ControlMessage struct {
	Cmd  string            `json:"cmd"`
	Args map[string]string `json:"args,omitempty"`
}

type ControlReply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func Ok(format string, args ...any) ControlReply {
	return ControlReply{OK: true, Message: fmt.Sprintf(format, args...)}
}

func Fail(format string, args ...any) ControlReply {
	return ControlReply{OK: false, Message: fmt.Sprintf(format, args...)}
}

type Handler func(ctx context.Context, msg ControlMessage) ControlReply

// Serve accepts connections on path until ctx is done. A stale socket file
// from a previous run is removed first.
func Serve(ctx context.Context, path string, handler Handler, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	if path == "" {
		path = DefaultSocketPath
	}
	os.Remove(path)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("Control socket listening", "path", path)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("Accept failed", "err", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			handleConn(ctx, conn, handler, logger)
		}()
	}
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler, logger *log.Logger) {
	defer conn.Close()

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		logger.Warn("Bad control message", "err", err)
		json.NewEncoder(conn).Encode(Fail("bad request: %v", err))
		return
	}

	logger.Debug("Control message", "cmd", msg.Cmd, "args", msg.Args)
	reply := handler(ctx, msg)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		logger.Warn("Failed to write control reply", "err", err)
	}
}

// Send delivers msg to the daemon at path and returns its reply.
func Send(ctx context.Context, path string, msg ControlMessage) (ControlReply, error) {
	if path == "" {
		path = DefaultSocketPath
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return ControlReply{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(time.Minute))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, fmt.Errorf("send: %w", err)
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
