/*
Package resilience provides a circuit breaker for remote dependencies.

Lapps reach two kinds of remote systems through the host: arbitrary HTTP
endpoints (the network capability) and the gossip broker. Both are wrapped
in a Breaker so a dead endpoint fails fast instead of tying up an
instance's invocation budget.

# States

	Closed --[threshold failures]-> Open --[cooldown]-> Half-Open
	   ^                                                   |
	   +-----------------[probe succeeds]------------------+
	                                                       |
	                     Open <----[probe fails]-----------+

Only one probe runs in the half-open state; concurrent callers get
ErrProbeInFlight.

# Usage

	breaker := resilience.New("fetch", resilience.Settings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	})

	err := breaker.Do(ctx, func(ctx context.Context) error {
		return client.Call(ctx)
	})
*/
package resilience
