// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

/*
Package supervisor runs the long-lived services of the recserve server under
a suture v4 supervisor tree.

	recserve
	├── data-layer
	│   └── metrics-multiproc-writer (when metrics.multiproc_dir is set)
	├── messaging-layer
	│   └── feedback-recorder (when events.enabled)
	└── api-layer
	    └── http-server

Each layer restarts its own services with backoff, so a failing recorder or
exporter never takes the HTTP server down. Supervisor events are logged
through sutureslog on top of the zerolog-backed slog handler from the
logging package.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddAPIService(services.NewHTTPServerService(server, addr, 10*time.Second, logger))
	errCh := tree.ServeBackground(ctx)

On shutdown, UnstoppedServiceReport lists services that ignored the
timeout.
*/
package supervisor
