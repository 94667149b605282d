package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gauravks/open62541/errors"
	"github.com/gauravks/open62541/metric"
	"github.com/gauravks/open62541/pkg/buffer"
	"github.com/prometheus/client_golang/prometheus"
)

// udpMetrics holds Prometheus metrics for a single UDP channel.
type udpMetrics struct {
	packetsReceived prometheus.Counter
	packetsDropped  prometheus.Counter
	socketErrors    prometheus.Counter
}

func newUDPMetrics(registry *metric.MetricsRegistry, address string) *udpMetrics {
	if registry == nil {
		return nil
	}

	m := &udpMetrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pubsub", Subsystem: "udp", Name: "packets_received_total",
			Help:        "UDP datagrams received.",
			ConstLabels: prometheus.Labels{"address": address},
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pubsub", Subsystem: "udp", Name: "packets_dropped_total",
			Help:        "UDP datagrams dropped because the receive buffer was full.",
			ConstLabels: prometheus.Labels{"address": address},
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pubsub", Subsystem: "udp", Name: "socket_errors_total",
			Help:        "Non-timeout errors returned by the UDP socket read.",
			ConstLabels: prometheus.Labels{"address": address},
		}),
	}

	_ = registry.RegisterCounter("udp", "packets_received_total_"+address, m.packetsReceived)
	_ = registry.RegisterCounter("udp", "packets_dropped_total_"+address, m.packetsDropped)
	_ = registry.RegisterCounter("udp", "socket_errors_total_"+address, m.socketErrors)

	return m
}

// UDPProfile opens UDP-UADP channels: one socket per connection, bound
// to the configured local address, used for both send and receive.
type UDPProfile struct {
	MetricsRegistry *metric.MetricsRegistry
}

// Open binds a UDP socket per settings.Address ("host:port") and
// returns a Channel backed by it.
func (p *UDPProfile) Open(ctx context.Context, settings Settings) (Channel, error) {
	addr, err := net.ResolveUDPAddr("udp", settings.Address)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidArgument, "UDPProfile", "Open")
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConnectionClosed, "UDPProfile", "Open")
	}

	const socketBufferSize = 2 * 1024 * 1024
	_ = conn.SetReadBuffer(socketBufferSize)

	recvBuf, err := buffer.NewCircularBuffer[[]byte](2048, buffer.WithOverflowPolicy[[]byte](buffer.DropOldest))
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, errors.KindInternalError, "UDPProfile", "Open")
	}

	ch := &udpChannel{
		conn:    conn,
		recvBuf: recvBuf,
		metrics: newUDPMetrics(p.MetricsRegistry, settings.Address),
	}
	ch.readCtx, ch.readCancel = context.WithCancel(context.Background())

	ch.wg.Add(1)
	go ch.readLoop()

	return ch, nil
}

// udpChannel implements Channel over one bound net.UDPConn.
type udpChannel struct {
	conn       *net.UDPConn
	recvBuf    buffer.Buffer[[]byte]
	readCtx    context.Context
	readCancel context.CancelFunc
	wg         sync.WaitGroup

	closed  atomic.Bool
	metrics *udpMetrics
}

func (c *udpChannel) Send(_ context.Context, frame []byte) error {
	if c.closed.Load() {
		return errors.Wrap(fmt.Errorf("channel closed"), errors.KindConnectionClosed, "udpChannel", "Send")
	}
	if _, err := c.conn.Write(frame); err != nil {
		return errors.Wrap(err, errors.KindConnectionClosed, "udpChannel", "Send")
	}
	return nil
}

func (c *udpChannel) Recv(ctx context.Context) ([]byte, error) {
	for {
		if item, ok := c.recvBuf.Read(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (c *udpChannel) Subscribe(_ context.Context, _ string) error {
	return nil // UDP has no topic concept
}

func (c *udpChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.readCancel()
	err := c.conn.Close()
	c.wg.Wait()
	_ = c.recvBuf.Close()
	if err != nil {
		return errors.Wrap(err, errors.KindInternalError, "udpChannel", "Close")
	}
	return nil
}

func (c *udpChannel) readLoop() {
	defer c.wg.Done()

	datagram := make([]byte, 65536)
	for {
		select {
		case <-c.readCtx.Done():
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := c.conn.ReadFromUDP(datagram)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-c.readCtx.Done():
				return
			default:
				if c.metrics != nil {
					c.metrics.socketErrors.Inc()
				}
				continue
			}
		}

		frame := make([]byte, n)
		copy(frame, datagram[:n])

		full := c.recvBuf.IsFull()
		if err := c.recvBuf.Write(frame); err != nil {
			if c.metrics != nil {
				c.metrics.packetsDropped.Inc()
			}
			continue
		}
		if c.metrics != nil {
			if full {
				c.metrics.packetsDropped.Inc()
			}
			c.metrics.packetsReceived.Inc()
		}
	}
}
