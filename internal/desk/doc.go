// Package desk is the renderer-facing core of gpttools-desk.
//
// A Desk owns the connection manager, the service client and the latest
// data lists. It runs the parallel refresh batch, the service start/stop
// lifecycle with its busy flag, the recurring auto refresh, the account and
// key actions, and the OAuth login flow. Results reach renderers through a
// Publisher (the feed hub) and the control API returned by Handler.
package desk
