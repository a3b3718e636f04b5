// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/svchub/svchub/hub"
	"github.com/svchub/svchub/lib/codec"
	"github.com/svchub/svchub/lib/handle"
	"github.com/svchub/svchub/lib/iovec"
)

// maxHandles bounds the file descriptors accepted on one request.
const maxHandles = 16

// Limits bound a server's per-connection resources. Zero fields fall
// back to the defaults.
type Limits struct {
	MaxRequestSize int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultLimits returns the standard per-connection limits.
func DefaultLimits() Limits {
	return Limits{
		MaxRequestSize: 1024 * 1024,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

func (l Limits) withDefaults() Limits {
	defaults := DefaultLimits()
	if l.MaxRequestSize <= 0 {
		l.MaxRequestSize = defaults.MaxRequestSize
	}
	if l.ReadTimeout <= 0 {
		l.ReadTimeout = defaults.ReadTimeout
	}
	if l.WriteTimeout <= 0 {
		l.WriteTimeout = defaults.WriteTimeout
	}
	return l
}

// Server accepts connections on a Unix socket and turns each request
// into a transaction or impulse on a registered hub service. Every
// request attaches a fresh channel for its duration, so services see
// the usual attach and detach lifecycle.
//
// Reply-side handle installs land in the per-request handle table
// and are closed with it once the response is written; descriptors
// flow from client to server only.
type Server struct {
	socketPath string
	limits     Limits
	logger     *slog.Logger
	services   map[string]*hub.Service

	// activeConnections tracks in-flight requests for graceful
	// shutdown. Serve waits for all of them before returning.
	activeConnections sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath.
// Register services with Register before calling Serve.
func NewServer(socketPath string, limits Limits, logger *slog.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		limits:     limits.withDefaults(),
		logger:     logger,
		services:   make(map[string]*hub.Service),
	}
}

// Register exposes a hub service under its name. Panics on a
// duplicate name; call before Serve.
func (s *Server) Register(service *hub.Service) {
	name := service.Name()
	if _, exists := s.services[name]; exists {
		panic(fmt.Sprintf("transport.Server: duplicate service %q", name))
	}
	s.services[name] = service
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight requests to finish. Any stale socket file is removed
// before listening, and the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("transport listening", "path", s.socketPath)

	for {
		conn, err := listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection processes one request-response cycle.
func (s *Server) handleConnection(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(s.limits.ReadTimeout))

	request, resources, err := s.readRequest(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	// Until the hub takes them, the received descriptors are ours to
	// release on any failure path.
	owned := true
	defer func() {
		if owned {
			for _, r := range resources {
				r.Close()
			}
		}
	}()

	service, exists := s.services[request.Service]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown service %q", request.Service))
		return
	}
	peer, err := peerIdentity(conn)
	if err != nil {
		s.writeError(conn, fmt.Sprintf("peer credentials: %v", err))
		return
	}

	var payload []byte
	if len(request.Payload) > 0 {
		payload, err = DecodeFrame(request.Payload)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("payload frame: %v", err))
			return
		}
	}

	table := handle.NewTable()
	channel, err := service.Attach(peer, table)
	if err != nil {
		table.Close()
		s.writeError(conn, fmt.Sprintf("attach: %v", err))
		return
	}
	defer channel.Close()
	defer table.Close()

	switch request.Action {
	case ActionImpulse:
		if err := channel.SendImpulse(request.Op, payload); err != nil {
			s.writeError(conn, err.Error())
			return
		}
		s.writeResponse(conn, Response{OK: true})

	case ActionSend:
		if request.RecvLen < 0 || request.RecvLen > s.limits.MaxRequestSize {
			s.writeError(conn, fmt.Sprintf("recv_len %d out of range", request.RecvLen))
			return
		}
		reply := make([]byte, request.RecvLen)
		status, err := channel.Send(ctx, request.Op,
			iovec.Bytes(payload), iovec.Bytes(reply), resources)
		if err != nil {
			// An interrupted send was enqueued, so the hub owns the
			// descriptors; any other error left them with us.
			if errors.Is(err, hub.ErrInterrupted) {
				owned = false
			}
			s.logger.Debug("send failed",
				"service", request.Service,
				"op", request.Op,
				"error", err,
			)
			s.writeError(conn, err.Error())
			return
		}
		owned = false
		s.writeResponse(conn, Response{
			OK:      true,
			Status:  status,
			Payload: EncodeFrame(reply),
		})

	default:
		s.writeError(conn, fmt.Sprintf("unknown action %q", request.Action))
	}
}

// readRequest reads the length-prefixed CBOR envelope and any
// SCM_RIGHTS descriptors that rode along with the first bytes.
func (s *Server) readRequest(conn *net.UnixConn) (*Request, []handle.Resource, error) {
	prefix := make([]byte, 4)
	oob := make([]byte, unix.CmsgSpace(maxHandles*4))
	n, oobn, _, _, err := conn.ReadMsgUnix(prefix, oob)
	if err != nil {
		return nil, nil, err
	}
	if n < len(prefix) {
		if _, err := io.ReadFull(conn, prefix[n:]); err != nil {
			return nil, nil, err
		}
	}

	resources, err := receivedResources(oob[:oobn])
	if err != nil {
		return nil, nil, err
	}
	closeAll := func() {
		for _, r := range resources {
			r.Close()
		}
	}

	size := int64(binary.BigEndian.Uint32(prefix))
	if size > s.limits.MaxRequestSize {
		closeAll()
		return nil, nil, fmt.Errorf("request is %d bytes, limit %d", size, s.limits.MaxRequestSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		closeAll()
		return nil, nil, err
	}

	var request Request
	if err := codec.Unmarshal(body, &request); err != nil {
		closeAll()
		return nil, nil, err
	}
	if request.HandleCount != len(resources) {
		closeAll()
		return nil, nil, fmt.Errorf("request declares %d handles, %d received",
			request.HandleCount, len(resources))
	}
	return &request, resources, nil
}

// receivedResources unpacks SCM_RIGHTS control messages into handle
// resources.
func receivedResources(oob []byte) ([]handle.Resource, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("control messages: %w", err)
	}
	var resources []handle.Resource
	for _, message := range messages {
		fds, err := unix.ParseUnixRights(&message)
		if err != nil {
			for _, r := range resources {
				r.Close()
			}
			return nil, fmt.Errorf("rights message: %w", err)
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
			resources = append(resources, handle.NewFile(fd))
		}
	}
	if len(resources) > maxHandles {
		for _, r := range resources {
			r.Close()
		}
		return nil, fmt.Errorf("%d handles exceeds the limit of %d", len(resources), maxHandles)
	}
	return resources, nil
}

// peerIdentity reads the connected process's credentials from the
// socket.
func peerIdentity(conn *net.UnixConn) (hub.Peer, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return hub.Peer{}, err
	}
	var cred *unix.Ucred
	var credErr error
	controlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if controlErr != nil {
		return hub.Peer{}, controlErr
	}
	if credErr != nil {
		return hub.Peer{}, credErr
	}
	return hub.Peer{
		PID: int(cred.Pid),
		TID: int(cred.Pid),
		UID: cred.Uid,
		GID: cred.Gid,
	}, nil
}

func (s *Server) writeError(conn *net.UnixConn, message string) {
	s.writeResponse(conn, Response{OK: false, Error: message})
}

func (s *Server) writeResponse(conn *net.UnixConn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(s.limits.WriteTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}
