/*
Package domain contains the core models of the relay: sessions, messages, actions and the
persisted recovery records.

It is kept free of I/O and persistence so that every adapter (memory, file, sqlite, redis,
HTTP, MCP) speaks the same vocabulary.

# Key Entities

  - Session: a correlation id with its bounded, ordered message history.
  - Message: an immutable submitted or produced entry.
  - ActionParams: everything an InstructionBuilder needs to encode one user action.
  - UnresolvedPoll: the single persisted pointer to a poll that ran out of time.
*/
package domain
