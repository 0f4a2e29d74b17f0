/*
Package ports defines the driven ports (interfaces) of the relay.

These interfaces decouple the core pipeline from external implementations, so the same
submit, poll and log flow runs against an in-memory simulation in tests and against a real
signer and ledger in production.

# Key Interfaces

  - KVStore: durable key-value backend behind the RecoveryStore (memory, file, sqlite, redis).
  - DistributedLocker: optional cross-process lock used for read-modify-write updates.
  - AddressDeriver: deterministic derivation of correlation ids and result locations.
  - InstructionBuilder, Transport: encode and broadcast an action.
  - ResultStore: fetch the raw buffer written at a result location.
  - IdentityProvider: the connected submitter identity, when there is one.
*/
package ports
