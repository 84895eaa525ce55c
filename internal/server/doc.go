// Package server implements the relay: a WebSocket endpoint where every text
// frame a client sends is broadcast to every other connected client, tagged
// with the sender's connection identity.
//
// The implementation is organized into the Registry, which owns the set of
// live connections and processes lifecycle and routing events one at a time;
// the Client, one per connection, which adapts the transport to registry
// events; and the HTTP wiring (Relay, routes, server helpers) around them.
package server
