package transport

// SyncSource identifies where the transport's clock reference comes from.
type SyncSource uint8

const (
	SyncInternal SyncSource = iota
	SyncExternal
)

// SyncStatus reports whether an external sync source is currently locked.
type SyncStatus uint8

const (
	SyncLocked SyncStatus = iota
	SyncFree
)

// SyncSnapshot is the atomic cell external-sync integration publishes for
// the bridge to read (spec.md §4.4): "External-sync integration is
// reduced to publishing a SyncSnapshot{...} atomic cell for the bridge
// to read."
type SyncSnapshot struct {
	Source           SyncSource
	Status           SyncStatus
	Following        bool
	ExternalTempo    float32
	ExternalPosition float64 // beats; only meaningful when Source == SyncExternal
}
