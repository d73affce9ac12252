// Package feed streams desk events to renderers over a websocket.
//
// Hub is the server side: each subscriber receives a hello event with the
// current connection state, then every published event as JSON
// {"type", "at", "data"}. A subscriber whose queue fills up is dropped so
// publishing never blocks the desk.
//
// Client is the reading side used by diagnostics tools.
package feed
