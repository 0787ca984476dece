// Package storage is the relational persistence layer of the relay.
//
// It keeps the chat registry, the send log used for reply threading, paid
// subscriptions, moderation records, sender aliases and runtime key/values.
// PostgreSQL is the production driver; SQLite serves single-node setups.
// Every call goes through a circuit breaker so an unavailable database
// fails fast instead of stalling the delivery workers.
package storage
