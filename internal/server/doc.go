// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the optional HTTP status server.
//
// Endpoints:
//   - GET /health - runtime reachability and uptime
//   - GET /stats  - queue counters (submitted, completed, canceled, failed, superseded)
//   - GET /jobs   - running, queued and recently finished jobs
//
// The server is read-only and listens on loopback by default.
//
// # Usage
//
//	srv := server.New(cfg.Server.Listen, version, queue, runtime, logger)
//	err := srv.Run(ctx)
package server
