// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Service connection attempts and believed connectivity
//   - Refresh task outcomes and batch latency
//   - Feed subscriber count and slow-subscriber drops
//   - Usage history rows written
package metrics
