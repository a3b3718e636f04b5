// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/svchub/svchub/lib/codec"
)

// maxResponseSize caps how much of a response the client will
// decode.
const maxResponseSize = 4 * 1024 * 1024

// Client issues requests against a transport server. Each call
// dials a fresh connection; the zero cost of Unix socket setup makes
// pooling unnecessary.
type Client struct {
	socketPath string
}

// NewClient returns a client for the server at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call performs a synchronous transaction against a named service.
// payload is sent as the message body; recvLen is the reply space to
// offer. files are passed to the service as transferable handles;
// the caller keeps ownership of the originals.
//
// Returns the completion status and the reply bytes.
func (c *Client) Call(ctx context.Context, service string, op int32, payload []byte, recvLen int64, files []*os.File) (int32, []byte, error) {
	request := Request{
		Action:      ActionSend,
		Service:     service,
		Op:          op,
		Payload:     EncodeFrame(payload),
		RecvLen:     recvLen,
		HandleCount: len(files),
	}
	response, err := c.roundTrip(ctx, request, files)
	if err != nil {
		return 0, nil, err
	}
	var reply []byte
	if len(response.Payload) > 0 {
		reply, err = DecodeFrame(response.Payload)
		if err != nil {
			return 0, nil, fmt.Errorf("reply frame: %w", err)
		}
	}
	return response.Status, reply, nil
}

// Impulse delivers a one-way notification to a named service.
func (c *Client) Impulse(ctx context.Context, service string, op int32, payload []byte) error {
	request := Request{
		Action:  ActionImpulse,
		Service: service,
		Op:      op,
		Payload: EncodeFrame(payload),
	}
	_, err := c.roundTrip(ctx, request, nil)
	return err
}

func (c *Client) roundTrip(ctx context.Context, request Request, files []*os.File) (*Response, error) {
	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.socketPath, err)
	}
	conn := netConn.(*net.UnixConn)
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	body, err := codec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	message := make([]byte, 0, 4+len(body))
	message = binary.BigEndian.AppendUint32(message, uint32(len(body)))
	message = append(message, body...)

	// Descriptors ride as ancillary data on the same write as the
	// request bytes, so the server picks them up with its first read.
	var rights []byte
	if len(files) > 0 {
		fds := make([]int, len(files))
		for i, file := range files {
			fds[i] = int(file.Fd())
		}
		rights = unix.UnixRights(fds...)
	}
	if _, _, err := conn.WriteMsgUnix(message, rights, nil); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if !response.OK {
		return nil, errors.New(response.Error)
	}
	return &response, nil
}
