// Package launcher starts and stops the local gpttools-service process.
//
// The listen address is passed through GPTTOOLS_SERVICE_ADDR. Without a
// configured binary the launcher runs in attach mode and leaves the service
// lifecycle to whoever started it.
package launcher
