// Package bridge maps the desk's invoke-style method names
// (service_account_list, service_apikey_delete, ...) onto gpttools-service
// JSON-RPC methods and routes service_start/service_stop to the launcher.
package bridge
