// Package service is the typed client for gpttools-service methods.
//
// Calls go through a connection.Caller (the bridge) and carry the manager's
// current address. Failures the service reports inside a result
// ({"error": "..."} or {"ok": false}) come back as *Error.
package service
