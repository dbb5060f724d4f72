/*
Package server provides the optional status server.

# Routes

	GET /health    liveness plus counters
	GET /streams   attached streams and their stats
	GET /metrics   Prometheus exposition
	GET /ws        live record feed, one JSON text message per record

Every route runs behind gin.Recovery, request ID propagation, the metrics
middleware, CORS and a global rate limit.
*/
package server
