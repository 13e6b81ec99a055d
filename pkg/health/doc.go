/*
Package health checks the dependencies of a boardsync server.

A Checker performs one check and returns a Result. RedisChecker pings the
Redis server used for presence and the change relay; FuncChecker wraps any
function, which is how the server checks Raft leadership and BoltDB reads.

Monitor runs named checks on an interval and hands every outcome to a
ReportFunc. A dependency turns unhealthy only after Config.Retries
consecutive failures, and failures inside Config.StartPeriod are not
counted. One success makes it healthy again.

	mon := health.NewMonitor(health.DefaultConfig(), metrics.UpdateComponent)
	mon.Add(metrics.ComponentRelay, health.NewRedisChecker(rdb))
	mon.Start(ctx)
	defer mon.Stop()

Transitions are logged; the metrics package turns the reports into the
/ready and /components responses.
*/
package health
