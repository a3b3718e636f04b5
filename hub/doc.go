// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub implements the synchronous messaging engine: services,
// channels, messages, and impulses.
//
// A Service is a named endpoint. Clients attach to it as Channels
// and either send messages (blocking request/reply transactions
// carrying scatter/gather data and transferable handles) or impulses
// (small fire-and-forget notifications). Service-side receivers
// dequeue work with Receive, operate on active messages by id
// (read, write, seek, copy, handle transfer), and complete them with
// Reply, which resumes the blocked sender with a status code.
//
// Messages and impulses share one FIFO per service, so receivers
// observe them in send order. Each enqueue wakes exactly one waiting
// receiver. Readiness is exposed through poll-style queries on both
// the service and its channels.
//
// Locking follows a two-tier discipline: one mutex per Service
// serializes the collections (channel set, queues, id allocators),
// and one mutex per message serializes its completion state and
// buffers, so working on one message's data never blocks the queues
// or other messages. Message lifetimes are reference counted; the
// sender and receiver sides drop their references independently.
package hub
