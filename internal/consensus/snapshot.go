package consensus

// Snapshot is a compacted prefix of the log produced once the entry
// count reaches Config.SnapshotThreshold, keeping the in-memory log
// bounded via this optional hook.
type Snapshot struct {
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
	State             []byte
}

// SnapshotStore is the pluggable capability a Node uses to persist and
// restore compacted log prefixes. Grounded on the LogStore/SnapshotStore
// split used by reference Raft implementations, where the snapshot
// backend is independent from the entry-by-entry log backend.
type SnapshotStore interface {
	Save(snap Snapshot) error
	Load() (Snapshot, bool, error)
}

// MemSnapshotStore is an in-memory SnapshotStore: it holds only the
// latest saved snapshot, and that snapshot does not outlive the process.
type MemSnapshotStore struct {
	snap Snapshot
	has  bool
}

func NewMemSnapshotStore() *MemSnapshotStore { return &MemSnapshotStore{} }

func (m *MemSnapshotStore) Save(snap Snapshot) error {
	m.snap = snap
	m.has = true
	return nil
}

func (m *MemSnapshotStore) Load() (Snapshot, bool, error) {
	return m.snap, m.has, nil
}

// maybeSnapshotLocked compacts the log prefix up to lastApplied when
// the in-memory log has reached the configured threshold. Must be
// called with n.mu held.
func (n *Node) maybeSnapshotLocked(stateBlob func() []byte) {
	if n.snapStore == nil || len(n.log) < n.cfg.SnapshotThreshold {
		return
	}
	if n.lastApplied == 0 {
		return
	}
	cut := n.lastApplied
	term, ok := n.termAtLocked(cut)
	if !ok {
		return
	}
	var blob []byte
	if stateBlob != nil {
		blob = stateBlob()
	}
	if err := n.snapStore.Save(Snapshot{LastIncludedIndex: cut, LastIncludedTerm: term, State: blob}); err != nil {
		n.cctx.Logger.Printf("consensus: snapshot save failed: %v", err)
		return
	}
	if err := n.store.TruncateSuffix(0); err != nil {
		n.cctx.Logger.Printf("consensus: snapshot truncate failed: %v", err)
	}
	kept := n.log[:0]
	for _, e := range n.log {
		if e.Index > cut {
			kept = append(kept, e)
		}
	}
	n.log = kept
	if len(n.log) > 0 {
		n.store.AppendEntries(n.log)
	}
}

func (n *Node) termAtLocked(index uint64) (uint64, bool) {
	for _, e := range n.log {
		if e.Index == index {
			return e.Term, true
		}
	}
	return 0, false
}
