// Package session maintains bounded conversational history for LLM chat.
// A Session enforces optional message-count and token budgets after every
// mutation; token overflow is handled by a pluggable Compactor, either plain
// truncation or LLM-assisted summarization that degrades to truncation when
// the summary call keeps failing.
package session
