// Package transport carries session messages over a websocket connection.
// A Channel owns one connection: a single reader goroutine decodes inbound
// frames and delivers them in arrival order, writes are safe for concurrent
// senders, and the closed callback distinguishes a locally requested close
// from an unexpected disconnect.
package transport
