// Package acp drives agents speaking the Agent Client Protocol: JSON-RPC 2.0
// over stdio, bidirectional. One long-lived agent process (a client) hosts
// multiple sessions. The orchestrator calls initialize, session/new, and
// session/prompt; the agent pushes session/update notifications and initiates
// requests of its own for permissions and file access.
//
// Permission requests are deferred: the agent's request is parked as a
// pending approval and answered only when an operator resolves it. File
// reads and writes are served synchronously, sandboxed to the session's
// working directory. Terminal methods are not advertised and are answered
// with method-not-found.
package acp
