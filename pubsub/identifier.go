package pubsub

import (
	"fmt"
	"sync/atomic"
)

// Identifier is a process-unique handle minted by the Manager. It is
// stable for the life of the process but not persisted across
// restarts.
type Identifier uint64

func (id Identifier) String() string { return fmt.Sprintf("id-%d", uint64(id)) }

// idMinter hands out Identifiers that never repeat within a process,
// independent of how many are later freed.
type idMinter struct {
	next atomic.Uint64
}

func (m *idMinter) mint() Identifier {
	return Identifier(m.next.Add(1))
}
