// Package types defines the shared data model and collaborator interfaces used
// across hogwatch: the persisted image record, the ephemeral scan task, and the
// contracts for the registry client, state store, scan executor, and notifier.
package types
