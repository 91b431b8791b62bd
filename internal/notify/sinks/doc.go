// Package sinks implements concrete notification consumers: structured
// logging, Prometheus counters, topic publishing and configuration snapshots
// written to a blob store. Each sink satisfies notify.Sink.
package sinks
