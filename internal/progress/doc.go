// Package progress provides the event primitives and sinks used to report
// conversion progress. Pipeline stages report through stage-tagged Channels;
// events are delivered synchronously to the bound client connection and
// optionally mirrored to a non-blocking Hub that batches them for
// observability consumers such as the log and Prometheus sinks.
package progress
