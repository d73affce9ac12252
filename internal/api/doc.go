// Package api provides the gpttools-service JSON-RPC client.
//
// Wire format (HTTP POST to http://<addr>/rpc):
//   - Request:  {"id": 1, "method": "account/list", "params": {...}}
//   - Response: {"id": 1, "result": {...}}
//
// Service-level failures are reported inside result as {"error": "..."};
// this package returns result untouched and leaves interpretation to callers.
package api
