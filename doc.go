// Package touristcache is a read-mostly gateway for tourists.
//
// Reads are served from five cache views and fall through to a RemoteStore on
// miss. Writes are published to a bus as commands; the domain service applies
// them and publishes results, which result subscribers apply to every view
// that indexes the affected tourist.
//
// Components:
//   - Provider: byte store with TTL (e.g. Ristretto, BigCache, Redis).
//   - Codec: (de)serializes tourists for the views and for the bus.
//   - GenStore: generation counter per view entry. Local (in-process) by default,
//     optional Redis implementation when replicas share a provider.
//   - Bus: ordered, at-least-once command/result transport (memory, Redis
//     Streams, RabbitMQ).
//
// Views and keys:
//
//	allTourists               list:<ns>:allTourists:allTourists
//	tourists                  single:<ns>:tourists:<id>
//	touristsByEmail           single:<ns>:touristsByEmail:<email>
//	touristsByPhone           single:<ns>:touristsByPhone:<phone>
//	touristsByNameAndSurname  list:<ns>:touristsByNameAndSurname:<name>-<surname>
//
// CAS pattern on read-through:
//
//	obs := view.SnapshotGen(k) // before remote read
//	v   := store.Get(k)
//	_   = view.SetWithGen(ctx, k, v, obs) // write iff current gen == obs
//
// Mutation results bump the generation before writing, so a read-through that
// raced with a result never overwrites it.
package touristcache
