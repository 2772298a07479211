// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

// Package services adapts recserve components that are not already
// suture.Service implementations. The metrics exporter and the feedback
// recorder implement Serve themselves; the HTTP server needs the wrapper here
// to turn Serve/Shutdown into a context-driven lifecycle.
//
// Return values follow suture's conventions: ctx.Err() after a requested
// shutdown, a non-nil error to request a restart.
package services
