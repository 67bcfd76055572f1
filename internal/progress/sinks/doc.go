// Package sinks implements progress consumers for the Hub: structured logging
// and Prometheus metrics. Each consumer satisfies progress.Consumer and is
// safe for repeated Consume/Close cycles.
package sinks
