package pubsub

import (
	"time"

	"github.com/gauravks/open62541/codec"
	"github.com/gauravks/open62541/eventloop"
	"github.com/gauravks/open62541/security"
	"github.com/gauravks/open62541/transport"
)

// RTLevel selects a ReaderGroup's real-time configuration mode.
type RTLevel int

const (
	RTNone RTLevel = iota
	RTFixedSize
)

// ConnectionConfig is the deep-copied configuration a Connection is
// created from. EventLoopOverride, when non-nil, makes this
// Connection run on its own event loop instead of the Manager's
// default.
type ConnectionConfig struct {
	Name                string
	PublisherID         codec.PublisherID
	TransportProfileURI string
	Settings            transport.Settings
	Properties          map[string]string

	// EventLoopOverride runs this Connection's callbacks on a
	// dedicated loop instead of the Manager's default, at the cost of
	// that loop's callbacks no longer sharing dispatch capacity with
	// every other Connection.
	EventLoopOverride *eventloop.Loop
}

func (c ConnectionConfig) clone() ConnectionConfig {
	out := c
	out.Properties = make(map[string]string, len(c.Properties))
	for k, v := range c.Properties {
		out.Properties[k] = v
	}
	if c.Settings.Raw != nil {
		out.Settings.Raw = make(map[string]string, len(c.Settings.Raw))
		for k, v := range c.Settings.Raw {
			out.Settings.Raw[k] = v
		}
	}
	return out
}

// ReaderGroupConfig is the deep-copied configuration a ReaderGroup is
// created from.
type ReaderGroupConfig struct {
	Name string

	// SubscribingInterval is the pull-mode tick period; defaults to 5ms
	// when zero.
	SubscribingInterval time.Duration

	// SocketTimeout bounds a blocking recv; defaults to 1000ms when
	// zero, forced to 0 (truly blocking) when EnableBlockingSocket is
	// set.
	SocketTimeout time.Duration

	// EnableBlockingSocket is rejected at creation time unless
	// CustomScheduler is also set — a blocking recv on the shared event
	// loop would stall every other Connection.
	EnableBlockingSocket bool
	CustomScheduler      bool

	RTLevel  RTLevel
	Encoding codec.Encoding

	SecurityMode    security.Mode
	SecurityGroupID string
	SecurityPolicy  security.Policy

	// RequireEncodingMatch additionally gates a DataSetReader's
	// identifier check on the frame's encoding matching this group's.
	RequireEncodingMatch bool

	// QueueName is the MQTT topic this group subscribes to, read from
	// broker-transport-settings when the parent Connection's transport
	// is MQTT.
	QueueName string
}

func (c ReaderGroupConfig) withDefaults() ReaderGroupConfig {
	out := c
	if out.SubscribingInterval <= 0 {
		out.SubscribingInterval = 5 * time.Millisecond
	}
	if out.SocketTimeout <= 0 {
		out.SocketTimeout = 1000 * time.Millisecond
	}
	if out.EnableBlockingSocket {
		out.SocketTimeout = 0
	}
	return out
}

// FieldType classifies one DataSet field for the RT eligibility check
// and for the fast/slow-path field decoder.
type FieldType int

const (
	FieldNumeric FieldType = iota
	FieldBoolean
	FieldString
	FieldByteString
)

// fixedWidth reports the field's byte width and whether that width is
// fixed independent of the data: numeric/boolean fields always have a
// fixed width; string/byte-string fields only have one when MaxLength
// bounds them.
func (f FieldConfig) fixedWidth() (int, bool) {
	switch f.Type {
	case FieldNumeric, FieldBoolean:
		if f.Width <= 0 {
			return 0, false
		}
		return f.Width, true
	case FieldString, FieldByteString:
		if f.MaxLength <= 0 {
			return 0, false
		}
		return f.MaxLength, true
	default:
		return 0, false
	}
}

// FieldConfig describes one DataSet field's wire shape.
type FieldConfig struct {
	Name string
	Type FieldType

	// Width is the fixed byte width of a Numeric/Boolean field (e.g. 4
	// for Int32). Unused for String/ByteString.
	Width int

	// MaxLength bounds a String/ByteString field; 0 means unbounded,
	// which disqualifies it from FIXED_SIZE mode.
	MaxLength int
}

// TargetVariable binds one DataSet field to an external value sink.
// Write receives the field's raw decoded bytes; interpreting them
// (e.g. little-endian int32, UTF-8 string) is the binding's job — the
// control plane treats field data as opaque.
type TargetVariable struct {
	FieldIndex int
	Write      func(data []byte) error
}

// DataSetReaderConfig is the deep-copied configuration a DataSetReader
// is created from.
type DataSetReaderConfig struct {
	PublisherID     codec.PublisherID
	WriterGroupID   uint16
	DataSetWriterID uint16

	Fields          []FieldConfig
	TargetVariables []TargetVariable
}

func (c DataSetReaderConfig) clone() DataSetReaderConfig {
	out := c
	out.Fields = append([]FieldConfig(nil), c.Fields...)
	out.TargetVariables = append([]TargetVariable(nil), c.TargetVariables...)
	return out
}
