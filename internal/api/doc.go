// Package api implements the HTTP REST API and live websocket feed for
// MeterLink Core.
//
// This package provides:
//   - REST endpoints for device registration, readings and aggregated stats
//   - A fan-out hub that pushes each ingested reading to live viewers
//   - JWT bearer authentication (tokens are issued upstream)
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// Handlers are thin: they decode the request, call the query service and
// map its error kinds onto HTTP status codes. Ingestion broadcasts into the
// same Hub the websocket handler registers viewers with.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Graceful Degradation
//
// The server operates without MQTT or InfluxDB. Reads and live viewers keep
// working; only OTA commands fail with 503.
package api
