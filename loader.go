package wtlfu

import "errors"

// ErrNotImplemented is returned by the loading-cache variants the spec
// names but does not specify (spec.md §9 Open Questions: "async loading,
// unbounded loading, variable-expiration put with duration... are declared
// but not implemented... stub them as 'not implemented' until specified
// separately"). Loader/BulkLoader/Reloader themselves are fully supported
// as external collaborators consumed by Cache.Get/GetAll/refresh; what is
// stubbed here is a synchronous, Guava/Caffeine-style "LoadingCache" wrapper
// that owns its own loader and exposes a loader-less Get.
var ErrNotImplemented = errors.New("wtlfu: loading-cache wrapper not implemented")

// NewLoadingCache is intentionally unimplemented; see ErrNotImplemented.
// Use Cache.Get(key, mappingFn) or configure a Loader and call
// Cache.GetOrLoad instead.
func NewLoadingCache[K comparable, V any](_ *Builder[K, V], _ Loader[K, V]) (*Cache[K, V], error) {
	return nil, ErrNotImplemented
}
