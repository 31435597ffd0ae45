// Package httpx is the HTTP binding of onem2m.ResourceClient.
//
// Resources are ensured with a retrieve-then-create pair: a 200 on the
// retrieve short-circuits, otherwise the create is posted to the parent.
// Creates answered 403 or 409 with a "duplicate" body count as present.
//
// The transport never retries. Failures come back as onem2m sentinels and
// the telemetry loop decides whether to back off.
package httpx
