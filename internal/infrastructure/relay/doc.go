// Package relay shares broadcast events between bridge instances through a
// Redis pub/sub channel.
//
// Each instance publishes the events its own worker broadcasts and listens
// for events from its peers, which it hands to its local observers. Events
// carry their origin so an instance never re-broadcasts its own.
package relay
