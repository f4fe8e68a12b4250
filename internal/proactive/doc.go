// Package proactive decides when the bot reaches out on its own.
//
// Pieces:
//   - Registry: durable registrations (who we may message, and where)
//   - Tracker: in-memory "is the user mid-conversation" signal
//   - Profile: per-user scheduling metadata in the memory store
//   - Evaluator: pure eligibility decision (DND, floors, de-dup, ignores)
//   - Engine: timers + periodic tick driving the whole thing
//
// The engine never messages a user outside their local waking window, never
// repeats an occasion within a local day, and backs off to gentle check-ins
// when it keeps getting ignored.
package proactive
