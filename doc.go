/*
Package relay submits user actions for asynchronous, out-of-band processing and reliably discovers their results.

An action is signed and broadcast through a Transport. Its result is later written, by someone else, at a
deterministic result location. relay polls that location within a bounded time budget, records the result in a
capped per-session history and survives restarts, network hiccups and rejected submissions.

# Concept

Every durable fact lives in a single RecoveryStore on top of an injected key-value backend (memory, file, SQLite
or Redis):

  - Sessions and their last 15 messages.
  - The pending queue of actions that could not be submitted yet.
  - An unresolved poll marker for a result that did not arrive in time.
  - The dedup anchor that prevents a stale result from being appended twice.

A new action either runs immediately (submit, then poll, then log) or, without a connected identity, waits in
the pending queue until Drain runs it through the same pipeline. Recover resumes a poll that timed out.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/relay"
		"github.com/aretw0/relay/pkg/adapters/memory"
		"github.com/aretw0/relay/pkg/ports"
	)

	func main() {
		ctx := context.Background()
		ledger := memory.NewLedger(memory.WithResponder(memory.EchoResponder("echo: ")))

		client, err := relay.New(
			relay.WithLedger(ledger),
			relay.WithIdentity(ports.StaticIdentity("wallet1")),
		)
		if err != nil {
			log.Fatal(err)
		}

		// Finish anything a previous run left behind.
		if _, err := client.Recover(ctx); err != nil {
			log.Fatal(err)
		}

		session, err := client.StartSession(ctx, "gm")
		if err != nil {
			log.Fatal(err)
		}

		out, err := client.Send(ctx, session.CorrelationID, "gm")
		if err != nil {
			log.Fatal(err)
		}
		log.Println(out.Status, out.Text)
	}
*/
package relay
