package relay_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/pkg/adapters/memory"
	"github.com/aretw0/relay/pkg/ports"
)

// ExampleClient_Send runs one action end to end against the simulated ledger.
func ExampleClient_Send() {
	ctx := context.Background()
	ledger := memory.NewLedger(memory.WithResponder(memory.EchoResponder("echo: ")))

	client, err := relay.New(
		relay.WithLedger(ledger),
		relay.WithIdentity(ports.StaticIdentity("wallet1")),
	)
	if err != nil {
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

	fmt.Println(out.Status)
	for _, m := range out.Messages {
		fmt.Printf("%s: %s\n", m.Role, m.Text)
	}
	// Output:
	// resolved
	// submitted: gm
	// produced: echo: gm
}

// ExampleClient_Enqueue shows actions waiting for an identity.
func ExampleClient_Enqueue() {
	ctx := context.Background()
	client, err := relay.New(relay.WithLedger(memory.NewLedger()))
	if err != nil {
		log.Fatal(err)
	}

	_ = client.Enqueue(ctx, "first")
	_ = client.Enqueue(ctx, "second")

	pending, _ := client.Pending(ctx)
	fmt.Println(pending)
	// Output: [first second]
}
