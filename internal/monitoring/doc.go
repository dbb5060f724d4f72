/*
Package monitoring provides Prometheus metrics for streams, child processes
and the status server.

# Overview

Metrics live on an explicit registry rather than the global default, so
tests and embedded supervisors do not collide. *Metrics implements
stream.Observer and can be handed straight to stream.WithObserver.

# Usage

	metrics := monitoring.NewMetrics(nil)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	timer := monitoring.NewTimer(metrics)
	// ... stream runs ...
	timer.Stop(monitoring.OutcomeClosed)
*/
package monitoring
