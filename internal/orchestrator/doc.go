// Package orchestrator drives chat turns and the thread lifecycle.
//
// # The chat turn
//
// One Chat invocation covers one user utterance through to one final
// assistant reply:
//
//  1. Resolve or create the active thread.
//  2. Record the user message (store first, then the session mirror).
//  3. Project history and request a completion with the available tools.
//  4. No tool calls: the text is the final reply.
//  5. Tool calls: record the assistant request, then invoke each call
//     sequentially in issued order. Failures become an error payload in the
//     tool result; they never abort the turn.
//  6. Request one closing completion with tools omitted - tool-chaining is
//     capped at one round per turn, bounding latency and cost.
//
// Every message is persisted before the next step runs, so the session
// mirror and the durable log agree after any successful operation. An LLM
// failure propagates to the caller with the user message already durable.
//
// # Concurrency
//
// One orchestrator instance owns one conversation at a time and is the sole
// writer of its session. Callers serialize Chat invocations per conversation;
// within a turn all external calls are awaited sequentially.
package orchestrator
