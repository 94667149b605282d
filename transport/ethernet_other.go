//go:build !linux

package transport

import (
	"context"
	"fmt"

	"github.com/gauravks/open62541/errors"
)

// EthernetProfile is unavailable outside Linux: raw AF_PACKET sockets
// are a Linux-only facility.
type EthernetProfile struct{}

func (p *EthernetProfile) Open(ctx context.Context, settings Settings) (Channel, error) {
	return nil, errors.Wrap(fmt.Errorf("ethernet transport requires Linux (AF_PACKET)"),
		errors.KindNotSupported, "EthernetProfile", "Open")
}
