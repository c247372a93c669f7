// SPDX-License-Identifier: MIT

package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/chponte/libreeye/internal/rerror"
)

// controlServer is the control-plane listener: a stream-oriented Unix
// socket, mode 0660, framing each request and reply with a trailing null
// byte and a UTF-8 JSON payload. It is itself a suture.Service so the root
// supervision tree restarts it if the listener ever dies unexpectedly.
//
// Reference: daemon/daemon.py's _ThreadingUnixServer/
// _ThreadingUnixRequestHandler (stale-socket removal, chmod 0660, one
// handler goroutine per connection) and socket_actions.py's null-byte
// message framing.
type controlServer struct {
	path string
	sup  *Supervisor
}

func newControlServer(path string, sup *Supervisor) (*controlServer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, rerror.Wrap(rerror.KindIO, "create control socket directory", err)
	}
	return &controlServer{path: path, sup: sup}, nil
}

func (c *controlServer) String() string { return "control-socket" }

// Serve removes any stale socket file left behind by a prior run, binds a
// fresh listener at 0660, and accepts connections until ctx is cancelled.
func (c *controlServer) Serve(ctx context.Context) error {
	_ = os.Remove(c.path)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", c.path)
	if err != nil {
		return rerror.Wrap(rerror.KindIO, "listen on control socket", err)
	}
	if err := os.Chmod(c.path, 0660); err != nil {
		_ = ln.Close()
		return rerror.Wrap(rerror.KindIO, "chmod control socket", err)
	}

	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-closed:
		}
	}()
	defer close(closed)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return rerror.Wrap(rerror.KindIO, "accept control connection", err)
		}
		go c.handle(conn)
	}
}

// controlRequest is the §6 control-socket request envelope.
//
// Reference: socket_actions.py / main.py's camera_actions: {"object":
// "camera"|"gc", "action": "ls"|"start"|"stop"|"run", "id": <camera name,
// start/stop only>}.
type controlRequest struct {
	Object string `json:"object"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

func (c *controlServer) handle(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	payload, err := reader.ReadBytes(0x00)
	if err != nil {
		return
	}
	payload = payload[:len(payload)-1]

	var req controlRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sup.log.Warn("control socket: malformed request", "error", err)
		return
	}

	reply := c.dispatch(&req)
	if reply == nil {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		c.sup.log.Warn("control socket: failed to marshal reply", "error", err)
		return
	}
	data = append(data, 0x00)
	_, _ = conn.Write(data)
}

// dispatch implements the §6 object/action grammar. A nil return means
// "no reply", matching start_camera's fire-and-forget semantics.
func (c *controlServer) dispatch(req *controlRequest) any {
	switch req.Object {
	case "camera":
		switch req.Action {
		case "ls":
			active := c.sup.ListCameras()
			out := make(map[string]map[string]bool, len(active))
			for name, isActive := range active {
				out[name] = map[string]bool{"active": isActive}
			}
			return out
		case "start":
			if err := c.sup.StartCamera(req.ID); err != nil {
				c.sup.log.Warn("control socket: start_camera failed", "camera", req.ID, "error", err)
			}
			return nil
		case "stop":
			code, err := c.sup.StopCamera(req.ID)
			if err != nil {
				c.sup.log.Warn("control socket: stop_camera failed", "camera", req.ID, "error", err)
			}
			return map[string]int{"exitcode": code}
		default:
			c.sup.log.Warn("control socket: unknown camera action", "action", req.Action)
			return nil
		}
	case "gc":
		if req.Action == "run" {
			code := c.sup.RunGC(context.Background())
			return map[string]int{"exitcode": code}
		}
		c.sup.log.Warn("control socket: unknown gc action", "action", req.Action)
		return nil
	default:
		c.sup.log.Warn("control socket: unknown object", "object", req.Object)
		return map[string]string{"error": fmt.Sprintf("unknown object %q", req.Object)}
	}
}
