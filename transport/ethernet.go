//go:build linux

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gauravks/open62541/errors"
	"github.com/gauravks/open62541/pkg/buffer"
	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
)

// opcUAEtherType is the EtherType IEC 62541-14 reserves for raw
// Ethernet PubSub frames.
const opcUAEtherType = 0xB62C

// EthernetProfile opens raw AF_PACKET channels on a named network
// interface, framing each outbound UADP NetworkMessage as the payload
// of an Ethernet II frame with EtherType opcUAEtherType.
type EthernetProfile struct{}

func (p *EthernetProfile) Open(ctx context.Context, settings Settings) (Channel, error) {
	if settings.Interface == "" {
		return nil, errors.Wrap(fmt.Errorf("ethernet transport requires Settings.Interface"),
			errors.KindInvalidArgument, "EthernetProfile", "Open")
	}

	handle, err := afpacket.NewTPacket(afpacket.OptInterface(settings.Interface))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConnectionClosed, "EthernetProfile", "Open")
	}

	srcMAC, err := interfaceMAC(settings.Interface)
	if err != nil {
		handle.Close()
		return nil, errors.Wrap(err, errors.KindInvalidArgument, "EthernetProfile", "Open")
	}

	recvBuf, err := buffer.NewCircularBuffer[[]byte](2048, buffer.WithOverflowPolicy[[]byte](buffer.DropOldest))
	if err != nil {
		handle.Close()
		return nil, errors.Wrap(err, errors.KindInternalError, "EthernetProfile", "Open")
	}

	ch := &ethernetChannel{
		handle:  handle,
		srcMAC:  srcMAC,
		recvBuf: recvBuf,
	}
	ch.readCtx, ch.readCancel = context.WithCancel(context.Background())

	ch.wg.Add(1)
	go ch.readLoop()

	return ch, nil
}

// ethernetChannel implements Channel over a raw AF_PACKET socket. It
// sends and receives broadcast Ethernet II frames carrying an
// OPC UA UADP payload.
type ethernetChannel struct {
	handle  *afpacket.TPacket
	srcMAC  [6]byte
	recvBuf buffer.Buffer[[]byte]

	readCtx    context.Context
	readCancel context.CancelFunc
	wg         sync.WaitGroup
	closed     atomic.Bool
}

func (c *ethernetChannel) Send(_ context.Context, frame []byte) error {
	if c.closed.Load() {
		return errors.Wrap(fmt.Errorf("channel closed"), errors.KindConnectionClosed, "ethernetChannel", "Send")
	}

	eth := layers.Ethernet{
		SrcMAC:       c.srcMAC[:],
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetType(opcUAEtherType),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, gopacket.Payload(frame)); err != nil {
		return errors.Wrap(err, errors.KindInternalError, "ethernetChannel", "Send")
	}

	if err := c.handle.WritePacketData(buf.Bytes()); err != nil {
		return errors.Wrap(err, errors.KindConnectionClosed, "ethernetChannel", "Send")
	}
	return nil
}

func (c *ethernetChannel) Recv(ctx context.Context) ([]byte, error) {
	for {
		if item, ok := c.recvBuf.Read(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

func (c *ethernetChannel) Subscribe(_ context.Context, _ string) error {
	return nil // Ethernet has no topic concept; filtering happens on EtherType.
}

func (c *ethernetChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.readCancel()
	c.handle.Close()
	c.wg.Wait()
	_ = c.recvBuf.Close()
	return nil
}

func (c *ethernetChannel) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.readCtx.Done():
			return
		default:
		}

		data, _, err := c.handle.ZeroCopyReadPacketData()
		if err != nil {
			select {
			case <-c.readCtx.Done():
				return
			default:
				continue
			}
		}

		pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
		ethLayer, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
		if !ok || ethLayer.EthernetType != layers.EthernetType(opcUAEtherType) {
			continue
		}

		payload := make([]byte, len(ethLayer.Payload))
		copy(payload, ethLayer.Payload)
		_ = c.recvBuf.Write(payload)
	}
}
