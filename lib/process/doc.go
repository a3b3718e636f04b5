// Copyright 2026 The Svchub Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. It holds the
// one legitimate raw-stderr pattern in the module: fatal error
// reporting from main() before or after the structured logger is
// available.
package process
