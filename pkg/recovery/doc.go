/*
Package recovery implements the RecoveryStore: the typed owner of every durable record of the relay.

It wraps a ports.KVStore with a fixed schema (sessions, pending queue, unresolved poll marker,
dedup anchors and the seed counter) and serializes read-modify-write updates per key, in process
through reference-counted mutexes and across processes through an optional DistributedLocker.
*/
package recovery
