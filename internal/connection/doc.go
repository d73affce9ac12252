// Package connection tracks whether the desk can reach gpttools-service.
//
// The Manager:
//   - Normalizes user-entered addresses ("9000", "http://127.0.0.1:9000/")
//   - Probes the service with bounded retries (Connect, WaitForConnection)
//   - Starts and stops the service through the bridge
//   - Discards outcomes of superseded probes (ProbeID)
//   - Reports status lines and hints through a Notifier
package connection
