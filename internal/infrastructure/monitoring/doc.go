/*
Package monitoring provides Prometheus metrics for the transports, the
telemetry loop and the fleet supervisor.

# Overview

Each Metrics value owns a private prometheus.Registry, so tests and multiple
instances never collide on the default registry. A nil *Metrics records
nothing.

# Usage

	metrics := monitoring.NewMetrics()

	// Time a oneM2M request
	timer := monitoring.NewTimer(metrics, "http", "cin")
	err := send()
	timer.Stop(onem2m.Kind(err))

	// Telemetry outcomes
	metrics.RecordSend("temp", err == nil)

	// Status endpoint
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
