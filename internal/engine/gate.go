package engine

// GateVersion runs the optimistic concurrency check for an existing record.
// A nil base means the client has no base knowledge (create-or-blind-upsert)
// and the write proceeds against the current version. A stale base yields a
// VersionConflictError carrying the server's projection; the caller must not
// mutate in that case.
//
// The in-memory check is advisory only: the actual write must still be a
// compare-and-swap on the version column, because two transactions can both
// read version N before either writes under non-serializable isolation.
func GateVersion(base *int64, current int64, entityID string, serverData interface{}) error {
	if base == nil {
		return nil
	}
	if *base != current {
		return &VersionConflictError{EntityID: entityID, ServerVersion: current, ServerData: serverData}
	}
	return nil
}
