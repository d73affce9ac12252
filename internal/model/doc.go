// Package model defines the data types exchanged with gpttools-service and
// the availability calculations shared by every view.
//
// Conventions:
//   - JSON field names follow the service (camelCase)
//   - Optional wire fields are pointers; nil means "not reported"
//   - Timestamps: int64 seconds since Unix epoch
//   - Percentages: float64 used percent on the wire, int remaining percent in views
package model
