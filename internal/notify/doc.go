// Package notify implements connection.Notifier sinks: structured logs,
// desktop notifications for error hints, and a fan-out.
package notify
