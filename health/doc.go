// Package health provides health monitoring for the proxy, its backends and
// the delivery pipeline.
//
// Health states are healthy, degraded and unhealthy. The proxy reports one
// status per backend and one for the delivery pipeline; the pipeline is
// degraded while batches wait for the background writer and unhealthy once
// stopped. Monitor collects statuses from concurrent reporters and
// AggregateHealth folds them into a single system status:
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("backend/imu", "initialized")
//	monitor.UpdateDegraded("pipeline", "3 batches pending")
//	overall := monitor.AggregateHealth("sensorhub") // degraded
//
// Error messages passed through FromError are sanitized so that addresses,
// file paths and credentials never reach the health endpoint.
package health
