// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// svchub-call sends one transaction or impulse to a service hosted
// by svchubd and prints the result.
//
//	svchub-call --service echo --op 7 --payload 'hello'
//	svchub-call --service echo --op 3 --impulse --payload 'wake'
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/svchub/svchub/lib/process"
	"github.com/svchub/svchub/transport"
)

const defaultSocketPath = "/run/svchub/svchub.sock"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		socketPath string
		service    string
		op         int32
		payload    string
		recvLen    int64
		impulse    bool
		timeout    time.Duration
	)
	pflag.StringVar(&socketPath, "socket", "", "daemon socket path (defaults to $SVCHUB_SOCKET)")
	pflag.StringVar(&service, "service", "", "target service name")
	pflag.Int32Var(&op, "op", 0, "operation code")
	pflag.StringVar(&payload, "payload", "", "payload bytes ('-' reads stdin)")
	pflag.Int64Var(&recvLen, "recv-len", 64*1024, "reply space to offer, in bytes")
	pflag.BoolVar(&impulse, "impulse", false, "send a one-way impulse instead of a transaction")
	pflag.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the call")
	pflag.Parse()

	if service == "" {
		return fmt.Errorf("--service is required")
	}
	if socketPath == "" {
		socketPath = os.Getenv("SVCHUB_SOCKET")
	}
	if socketPath == "" {
		socketPath = defaultSocketPath
	}

	body := []byte(payload)
	if payload == "-" {
		data, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		body = data
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := transport.NewClient(socketPath)
	if impulse {
		if err := client.Impulse(ctx, service, op, body); err != nil {
			return err
		}
		fmt.Println("impulse delivered")
		return nil
	}

	status, reply, err := client.Call(ctx, service, op, body, recvLen, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "status: %d\n", status)
	if len(reply) > 0 {
		os.Stdout.Write(reply)
		fmt.Println()
	}
	return nil
}
