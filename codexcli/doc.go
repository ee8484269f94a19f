// Package codexcli drives a long-lived app-server style agent over duplex
// line-framed JSON-RPC on stdio. The orchestrator sends requests with int64
// correlation ids; the agent answers responses, pushes notifications, and
// initiates approval requests of its own that are answered later with the
// original id once an operator decides.
package codexcli
