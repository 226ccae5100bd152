// Package agent implements the per-turn reasoning loop: it assembles the
// model request from session history, executes requested tool calls and
// appends every intermediate step to the session store so a crash mid-turn
// loses at most the in-flight iteration.
package agent
