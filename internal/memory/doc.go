// Package memory is the durable memory layer.
//
// Everything the bot remembers is a plain text record inside a scope
// (usually one scope per user plus a system scope). Records are append-only;
// callers that need replace semantics delete matching records first, then
// append the new one.
//
// Search is a substring match, newest first. That is deliberately simple:
// scheduling metadata uses stable marker prefixes, so a prefix query finds
// exactly the records it owns.
package memory
