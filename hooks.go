package touristcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The gateway calls them on hot paths and from result subscribers.
type Hooks interface {
	// A view entry was deleted by the gateway on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode", "mutate_conflict"}
	SelfHeal(storageKey, reason string)

	// Provider.Get failed; the lookup was served as a miss.
	ProviderGetError(storageKey string, err error)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore errors (snapshot or bump).
	GenSnapshotError(storageKey string, err error)
	GenBumpError(storageKey string, err error)

	// Both gen bump and delete failed during Evict (likely backend outage).
	EvictOutage(storageKey string, bumpErr, delErr error)

	// The remote store failed or timed out on a read-through.
	RemoteFetchFailed(view, key string, err error)

	// A mutation result could not be decoded or applied and was dropped.
	ResultDropped(routingKey string, err error)

	// A mutation result targeted a list view entry that is not cached.
	StaleApply(view, key, kind string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)                 {}
func (NopHooks) ProviderGetError(string, error)          {}
func (NopHooks) ProviderSetRejected(string)              {}
func (NopHooks) GenSnapshotError(string, error)          {}
func (NopHooks) GenBumpError(string, error)              {}
func (NopHooks) EvictOutage(string, error, error)        {}
func (NopHooks) RemoteFetchFailed(string, string, error) {}
func (NopHooks) ResultDropped(string, error)             {}
func (NopHooks) StaleApply(string, string, string)       {}
