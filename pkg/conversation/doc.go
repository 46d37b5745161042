// Package conversation models the ordered message log of a single
// conversation.
//
// Invariants:
// - Message order is append-only; identifiers are immutable once assigned.
// - A tool message must consume a pending tool call id exactly once.
// - Message and token counts are derived, never written directly.
package conversation
