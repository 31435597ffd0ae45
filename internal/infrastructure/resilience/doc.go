/*
Package resilience provides the circuit breaker used as a send-failure budget.

# Overview

Each simulator wraps its data-point sends in a Breaker. A send that fails
counts against the budget; a send that succeeds resets the streak. Once
ReadyToTrip reports true the breaker opens and the send loop gives up.

# Usage

	breaker := resilience.New("temp", resilience.Settings{
		Timeout:     -1, // stay open, the loop aborts
		ReadyToTrip: resilience.ConsecutiveFailures(5),
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("send budget", zap.String("sensor", name), zap.Stringer("to", to))
		},
	})

	err := breaker.Do(ctx, func(ctx context.Context) error {
		return client.SendDataPoint(ctx, ae, cnt, value)
	})
	if breaker.Tripped() {
		// abort
	}

A call that returns after ctx is done is not counted, so an interrupted
send never uses up the budget. IsFailure can exclude further errors.

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open

A zero Interval keeps counts for the life of the closed state. A negative
Timeout keeps the breaker open until Reset.
*/
package resilience
