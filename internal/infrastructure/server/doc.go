/*
Package server serves the coordinator's status endpoints.

Routes:

	GET /health         liveness of the coordinator itself
	GET /metrics        Prometheus exposition of the private registry
	GET /fleet          children and their states plus a metrics snapshot
	GET /fleet/stream   the same snapshot pushed over a websocket

The router carries recovery, request metrics, a read-only CORS policy and
a global rate limit. Start binds synchronously so a busy port is reported
before the fleet is launched. Shutdown closes open streams with a going-away
frame.
*/
package server
