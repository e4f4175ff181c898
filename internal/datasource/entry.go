package datasource

import (
	"context"
	"strings"
)

// groupSeparators split a datasource name into its implicit group prefix:
// "orders-1" and "orders_2" both belong to group "orders".
var groupSeparators = []string{"_", "-"}

// Entry is one registered datasource. Entries are values: the registry
// replaces them on mutation and hands out copies, so an Entry held by a
// caller never changes underneath it.
type Entry struct {
	Name     string
	Group    string
	Weight   int
	Healthy  bool
	Provider ConnectionProvider

	seq   uint64
	lease *Lease
}

// Acquire borrows a connection from the entry's provider. Connections
// borrowed through a registered entry are counted, so removing the entry
// closes the provider only after they are all returned. Use As to reach the
// provider's own connection type.
func (e Entry) Acquire(ctx context.Context) (Connection, error) {
	if e.lease == nil {
		return e.Provider.Acquire(ctx)
	}
	return e.lease.acquire(ctx)
}

// InGroup reports whether the entry is a member of group. An explicit Group
// wins; otherwise membership is by name prefix followed by a separator.
func (e Entry) InGroup(group string) bool {
	if group == "" {
		return false
	}
	if e.Group != "" {
		return e.Group == group
	}
	for _, sep := range groupSeparators {
		if strings.HasPrefix(e.Name, group+sep) {
			return true
		}
	}
	return false
}

// EffectiveWeight returns the weight, defaulting to 1 when unset.
func (e Entry) EffectiveWeight() int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}

// Seq returns the registration order of the entry.
func (e Entry) Seq() uint64 {
	return e.seq
}
