// Package dispatch turns a raw argument vector into exactly one text result.
//
// The dispatcher sits between the transports and the command registry:
//   - an empty vector runs "help"
//   - the first token names the command (case-insensitive)
//   - the remaining tokens are hydrated into a fresh command instance
//   - the container is attached and the command's middleware chain runs it
//
// Every failure, including a panic inside a command, is rendered as text.
// Transports never see an error from Execute; they write whatever text comes
// back and keep the connection open.
package dispatch
