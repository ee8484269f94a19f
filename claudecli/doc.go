// Package claudecli drives the line-streaming single-shot agent CLI. The
// prompt goes in via argv, the process streams one JSON object per stdout
// line, and the exit code is the authority on completion. There is no
// protocol-level approval channel; permission behavior is fixed at spawn
// time through the permission-mode flag.
package claudecli
