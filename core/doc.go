// Package core contains the shared domain types of the concierge
// orchestration core: messages, sessions, turns, tool calls and the error
// taxonomy, plus the narrow interfaces (SessionStore, ChannelAdapter) through
// which external collaborators are consumed. All other packages depend on
// core; core depends on nothing but the standard library and uuid.
package core
