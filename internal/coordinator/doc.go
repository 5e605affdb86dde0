// Package coordinator detects a second writer on the same workspace.
//
// Every mediadesk process that opens a workspace keeps a liveness file under
// .mediadesk/writers and refreshes it on an interval. A peer whose file is
// fresher than the stale threshold is a concurrent writer; the conflict
// callback fires once per peer and is re-armed when that peer goes stale.
// The writer lock records which process holds primary ownership. Nothing
// here blocks writes: conflicts are reported, not prevented.
package coordinator
