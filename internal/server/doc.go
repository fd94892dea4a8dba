// Package server exposes the atomic operations endpoint over HTTP.
//
// Routes:
//
//	POST {base}/operations  run one batch
//	GET  /healthz           liveness and store check
//	GET  /metrics           Prometheus exposition (when enabled)
//
// Every response of the operations route, errors included, uses the
// atomic media type. A committed batch answers 204 when no result carries
// data and 200 with an atomic:results document otherwise. Failures answer
// with a JSON:API error document whose source.pointer names the offending
// operation.
package server
