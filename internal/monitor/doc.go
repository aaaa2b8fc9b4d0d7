// Package monitor turns filesystem activity into engine events.
//
// FileMonitor watches the managed data tree and reports every file creation,
// modification and deletion. It does no filtering; deciding what an event
// means is the administrator's job. Directories are watched but never
// reported, and a move is reported as a deletion of the source followed by a
// creation of the destination.
//
// StateMonitor watches the patterns/ and recipes/ subdirectories of the state
// root, decodes each definition file, and reports complete definitions or
// deletions by name. Files that fail to decode or validate are logged and
// dropped here, so the administrator never sees a partial definition.
//
// Both monitors hand events to a caller-supplied function and never block on
// the receiver beyond that call.
package monitor
