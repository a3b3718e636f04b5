// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/svchub/svchub/hub"
	"github.com/svchub/svchub/lib/iovec"
)

// workerGroup tracks receiver goroutines across all hosted services
// so shutdown can wait for them.
type workerGroup struct {
	wg sync.WaitGroup
}

// startEcho launches count receiver loops on the service. The echo
// worker accepts every attach, replies to detach notices, logs
// impulses, and answers each message by copying its payload back
// with the op code as the status.
func (g *workerGroup) startEcho(service *hub.Service, count int, logger *slog.Logger) {
	for i := 0; i < count; i++ {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			echoLoop(service, logger)
		}()
	}
}

func (g *workerGroup) wait() {
	g.wg.Wait()
}

func echoLoop(service *hub.Service, logger *slog.Logger) {
	for {
		delivery, err := service.Receive(context.Background(), -1)
		if err != nil {
			// ErrCanceled on shutdown; anything else is logged by the
			// hub already.
			return
		}

		if delivery.Kind == hub.KindImpulse {
			logger.Debug("impulse",
				"service", service.Name(),
				"channel", delivery.Impulse.Channel,
				"op", delivery.Impulse.Op,
				"bytes", len(delivery.Impulse.Payload()),
			)
			continue
		}

		info := delivery.Message
		if info.Op == hub.OpAttach || info.Op == hub.OpDetach {
			service.Reply(info.ID, 0)
			continue
		}

		buffer := make([]byte, info.SendLen)
		if _, err := service.ReadMessage(info.ID, iovec.Bytes(buffer)); err != nil {
			logger.Warn("read failed",
				"service", service.Name(),
				"message", info.ID,
				"error", err,
			)
			service.Reply(info.ID, -1)
			continue
		}
		if _, err := service.WriteMessage(info.ID, iovec.Bytes(buffer)); err != nil {
			logger.Warn("write failed",
				"service", service.Name(),
				"message", info.ID,
				"error", err,
			)
			service.Reply(info.ID, -1)
			continue
		}
		service.Reply(info.ID, info.Op)
	}
}
