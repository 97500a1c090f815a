package track

import "strings"

// Factory constructs a fresh adapter instance for one query run. The
// instance (and its transport session) is never shared across runs.
type Factory func() (Carrier, error)

type Registration struct {
	Descriptor Descriptor
	New        Factory
}

// The registry is populated once by an explicit startup sequence
// (lib/carriers.RegisterAll) and read-only afterwards, so no locking.
var registry []Registration

// Register appends a carrier to the process-wide registry. No
// deduplication: registering the same carrier twice yields two entries.
// Display order follows registration order.
func Register(d Descriptor, f Factory) {
	registry = append(registry, Registration{Descriptor: d, New: f})
}

// Registered returns all registrations in registration order.
func Registered() []Registration {
	out := make([]Registration, len(registry))
	copy(out, registry)
	return out
}

// Lookup finds a registration by plain or display name,
// case-insensitively.
func Lookup(name string) (Registration, bool) {
	for _, reg := range registry {
		if strings.EqualFold(reg.Descriptor.Name, name) ||
			strings.EqualFold(reg.Descriptor.DisplayName(), name) {
			return reg, true
		}
	}
	return Registration{}, false
}
