// Package onem2m defines the transport-agnostic resource client used by the
// device simulators, together with the oneM2M wire types shared by the HTTP
// and MQTT bindings.
//
// A simulator only ever needs three operations against the CSE:
//
//   - EnsureApplicationEntity: register the device identity (AE)
//   - EnsureContainer: create the container (CNT) that holds readings
//   - SendDataPoint: append one content instance (CIN)
//
// The two Ensure operations are idempotent from the caller's point of view:
// "already exists" is success, so a failed registration can simply be
// retried. SendDataPoint is not; a retried send may store a duplicate reading
// when the first attempt reached the CSE but its answer was lost.
//
// Errors:
//   - ErrUnreachable: no connection could be established
//   - ErrRejected: the CSE answered with a non-accepted status/result code
//   - ErrTimeout: no answer within the configured bound
//   - ErrClosed: the client was closed while a request was in flight
//
// Example Usage:
//
//	var client onem2m.ResourceClient = httpx.New(cfg, logger)
//	if err := client.EnsureApplicationEntity(ctx, "CtempSensor"); err != nil {
//	    return err
//	}
//	err := client.SendDataPoint(ctx, "CtempSensor", "temperature", "23.4")
package onem2m
