// Package tools provides the tool catalog and providers for loom.
//
// # Overview
//
// A Provider is a connected source of callable tools. The Catalog owns the
// set of providers, drives their connection lazily, and resolves tool names
// to the owning provider at invocation time.
//
// # Connection states
//
// Each provider moves through an explicit state machine:
//
//	Disconnected -> Connecting -> Ready
//	                           -> Failed
//
// Connection is attempted on first use and cached once successful. A Failed
// provider contributes zero tools - never an error - and can be returned to
// Disconnected via Reset so a later turn retries.
//
// # Builtin providers
//
// NotesProvider executes in-process against the store and always connects:
//
//	builtin:notes - note_set, note_get, note_list, note_delete
package tools
