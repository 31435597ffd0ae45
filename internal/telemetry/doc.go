/*
Package telemetry produces sensor values and streams them to the CSE.

A Source hands out values: SliceSource for CSV replay, RandomSource for
values drawn from a sensor profile. Loop sends the current value, advances
only on success and backs off on failure:

	Sending --ok--> Sending ... --source done--> Exhausted (exit 0)
	   |
	 fail
	   v
	Backoff --retry wait, interval--> Sending (same value)
	   |
	 threshold consecutive failures
	   v
	Aborted (exit 1)

Cancelling the context ends the loop in Cancelled from any state.
*/
package telemetry
