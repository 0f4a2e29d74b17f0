/*
Package observability turns relay lifecycle hooks into Prometheus metrics and structured log lines.

Both helpers return a domain.Hooks value; combine them with Hooks.Merge and pass the result to relay.WithHooks.
*/
package observability
