// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

/*
Package events carries /feedback outcomes from the serving path to the
offline feature pipeline.

	/feedback -> Publisher -> watermill topic -> Recorder -> Sink (Parquet)

The transport is a watermill Publisher/Subscriber pair: an in-process
gochannel by default, or core NATS when several server processes should
feed one recorder (the subscriber joins a queue group, so each event is
recorded once).

Publisher guards the transport with a circuit breaker. Recorder batches
events and writes them through a Sink; ParquetSink produces
<data>/events/feedback-*.parquet files that the features job can fold into
the interaction log.
*/
package events
