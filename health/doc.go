// Package health tracks the state of the agent's and hub's moving parts and
// serves the aggregate as JSON.
//
// A Monitor holds one Status per component. Components either push updates
// (UpdateHealthy, UpdateDegraded, UpdateUnhealthy) or register a check that
// is evaluated whenever the aggregate is requested:
//
//	monitor := health.NewMonitor()
//	monitor.UpdateDegraded("inspector", "waiting for first connection")
//	monitor.Register("storage", func() health.Status {
//	    return health.NewHealthy("storage", "3 namespaces")
//	})
//	mux.Handle("/health", monitor.Handler("cachescope-agent"))
//
// The aggregate is unhealthy if any component is unhealthy, degraded if any
// is degraded, and healthy otherwise. The handler answers 503 only for an
// unhealthy aggregate so a reconnecting agent is not restarted by a probe.
//
// Messages built from errors pass through FromError, which strips URLs,
// paths, addresses and credentials before they are exposed.
package health
