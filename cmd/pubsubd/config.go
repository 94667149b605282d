package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gauravks/open62541/codec"
	"github.com/gauravks/open62541/pubsub"
	"github.com/gauravks/open62541/security"
)

// Config is the static bootstrap document a pubsubd instance is started
// from. Unlike an OPC UA server's AddressSpace, which accepts
// Connection/ReaderGroup/DataSetReader method calls at runtime, a
// headless daemon needs a file describing what to provision on launch.
type Config struct {
	NATS        NATSConfig       `json:"nats"`
	Metrics     MetricsConfig    `json:"metrics"`
	Connections []ConnectionSpec `json:"connections"`
}

// NATSConfig points at the cluster hosting the security-key-service KV
// bucket that SKSClient watches for rollovers.
type NATSConfig struct {
	URL            string `json:"url"`
	SecurityBucket string `json:"securityBucket"`
}

// MetricsConfig configures the Prometheus HTTP endpoint. The port
// itself is a CLI/env concern (see flags.go); this only covers the
// document's share of the endpoint.
type MetricsConfig struct {
	Path string `json:"path"`
}

// PublisherIDSpec is the wire form of codec.PublisherID: exactly one of
// Numeric or Text should be set.
type PublisherIDSpec struct {
	Numeric uint32 `json:"numeric,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (p PublisherIDSpec) toCodec() codec.PublisherID {
	if p.Text != "" {
		return codec.PublisherID{Text: p.Text, IsString: true}
	}
	return codec.PublisherID{Numeric: p.Numeric}
}

// ConnectionSpec provisions one Connection and its ReaderGroups.
type ConnectionSpec struct {
	Name                 string            `json:"name"`
	TransportProfileURI  string            `json:"transportProfileUri"`
	PublisherID          PublisherIDSpec   `json:"publisherId"`
	Properties           map[string]string `json:"properties"`
	ReaderGroups         []ReaderGroupSpec `json:"readerGroups"`
}

// ReaderGroupSpec provisions one ReaderGroup and its DataSetReaders.
type ReaderGroupSpec struct {
	Name                 string               `json:"name"`
	Encoding             string               `json:"encoding"` // "uadp" | "json"
	SubscribingInterval  time.Duration        `json:"subscribingIntervalMs"`
	SecurityMode         string               `json:"securityMode"` // "none" | "sign" | "signAndEncrypt"
	SecurityGroupID      string               `json:"securityGroupId"`
	RTLevel              string               `json:"rtLevel"` // "none" | "fixedSize"
	QueueName            string               `json:"queueName"`
	DataSetReaders       []DataSetReaderSpec  `json:"dataSetReaders"`
}

// DataSetReaderSpec provisions one DataSetReader.
type DataSetReaderSpec struct {
	Name            string          `json:"name"`
	PublisherID     PublisherIDSpec `json:"publisherId"`
	WriterGroupID   uint16          `json:"writerGroupId"`
	DataSetWriterID uint16          `json:"dataSetWriterId"`
	Fields          []FieldSpec     `json:"fields"`
}

// FieldSpec describes one DataSet field's wire shape.
type FieldSpec struct {
	Name      string `json:"name"`
	Type      string `json:"type"` // "numeric" | "boolean" | "string" | "bytestring"
	Width     int    `json:"width"`
	MaxLength int    `json:"maxLength"`
}

func (f FieldSpec) toCodec() (pubsub.FieldConfig, error) {
	var t pubsub.FieldType
	switch f.Type {
	case "numeric", "":
		t = pubsub.FieldNumeric
	case "boolean":
		t = pubsub.FieldBoolean
	case "string":
		t = pubsub.FieldString
	case "bytestring":
		t = pubsub.FieldByteString
	default:
		return pubsub.FieldConfig{}, fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
	}
	return pubsub.FieldConfig{Name: f.Name, Type: t, Width: f.Width, MaxLength: f.MaxLength}, nil
}

func encodingFromString(s string) (codec.Encoding, error) {
	switch s {
	case "uadp", "":
		return codec.EncodingUADP, nil
	case "json":
		return codec.EncodingJSON, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q", s)
	}
}

func securityModeFromString(s string) (security.Mode, error) {
	switch s {
	case "none", "":
		return security.ModeNone, nil
	case "sign":
		return security.ModeSign, nil
	case "signAndEncrypt":
		return security.ModeSignAndEncrypt, nil
	default:
		return 0, fmt.Errorf("unknown security mode %q", s)
	}
}

func rtLevelFromString(s string) (pubsub.RTLevel, error) {
	switch s {
	case "none", "":
		return pubsub.RTNone, nil
	case "fixedSize":
		return pubsub.RTFixedSize, nil
	default:
		return 0, fmt.Errorf("unknown rtLevel %q", s)
	}
}

// loadConfig reads and parses a pubsubd bootstrap document.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the document for obvious misconfiguration before any
// provisioning is attempted.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.NATS.SecurityBucket == "" {
		return fmt.Errorf("nats.securityBucket is required")
	}
	for i, conn := range c.Connections {
		if conn.TransportProfileURI == "" {
			return fmt.Errorf("connections[%d]: transportProfileUri is required", i)
		}
		for j, rg := range conn.ReaderGroups {
			if _, err := encodingFromString(rg.Encoding); err != nil {
				return fmt.Errorf("connections[%d].readerGroups[%d]: %w", i, j, err)
			}
			if _, err := securityModeFromString(rg.SecurityMode); err != nil {
				return fmt.Errorf("connections[%d].readerGroups[%d]: %w", i, j, err)
			}
			if _, err := rtLevelFromString(rg.RTLevel); err != nil {
				return fmt.Errorf("connections[%d].readerGroups[%d]: %w", i, j, err)
			}
			for k, r := range rg.DataSetReaders {
				for l, f := range r.Fields {
					if _, err := f.toCodec(); err != nil {
						return fmt.Errorf("connections[%d].readerGroups[%d].dataSetReaders[%d].fields[%d]: %w", i, j, k, l, err)
					}
				}
			}
		}
	}
	return nil
}

// provision creates every Connection/ReaderGroup/DataSetReader this spec
// describes on mgr, logging the field data a fully configured control
// plane would otherwise forward to external targets.
func provision(mgr *pubsub.Manager, cfg *Config, logger *slog.Logger) error {
	for _, connSpec := range cfg.Connections {
		connID, err := mgr.AddConnection(pubsub.ConnectionConfig{
			Name:                connSpec.Name,
			PublisherID:         connSpec.PublisherID.toCodec(),
			TransportProfileURI: connSpec.TransportProfileURI,
			Properties:          connSpec.Properties,
		})
		if err != nil {
			return fmt.Errorf("add connection %q: %w", connSpec.Name, err)
		}

		if err := mgr.SetConnectionState(context.Background(), connID, pubsub.StatePreOperational, pubsub.CauseGood); err != nil {
			return fmt.Errorf("enable connection %q: %w", connSpec.Name, err)
		}

		for _, rgSpec := range connSpec.ReaderGroups {
			rgCfg, err := rgSpec.toPubsubConfig()
			if err != nil {
				return fmt.Errorf("connection %q: %w", connSpec.Name, err)
			}
			groupID, err := mgr.AddReaderGroup(connID, rgCfg)
			if err != nil {
				return fmt.Errorf("connection %q: add reader group %q: %w", connSpec.Name, rgSpec.Name, err)
			}

			for _, rSpec := range rgSpec.DataSetReaders {
				rCfg, err := rSpec.toPubsubConfig(logger, rgSpec.Name)
				if err != nil {
					return fmt.Errorf("reader group %q: %w", rgSpec.Name, err)
				}
				if _, err := mgr.AddDataSetReader(groupID, rCfg); err != nil {
					return fmt.Errorf("reader group %q: add reader %q: %w", rgSpec.Name, rSpec.Name, err)
				}
			}

			if err := mgr.EnableReaderGroup(context.Background(), groupID); err != nil {
				return fmt.Errorf("enable reader group %q: %w", rgSpec.Name, err)
			}
		}
	}
	return nil
}

func (rg ReaderGroupSpec) toPubsubConfig() (pubsub.ReaderGroupConfig, error) {
	enc, err := encodingFromString(rg.Encoding)
	if err != nil {
		return pubsub.ReaderGroupConfig{}, err
	}
	mode, err := securityModeFromString(rg.SecurityMode)
	if err != nil {
		return pubsub.ReaderGroupConfig{}, err
	}
	rt, err := rtLevelFromString(rg.RTLevel)
	if err != nil {
		return pubsub.ReaderGroupConfig{}, err
	}

	var policy security.Policy
	if mode != security.ModeNone {
		policy = security.NewAESGCMPolicy()
	}

	return pubsub.ReaderGroupConfig{
		Name:                rg.Name,
		SubscribingInterval: rg.SubscribingInterval * time.Millisecond,
		RTLevel:             rt,
		Encoding:            enc,
		SecurityMode:        mode,
		SecurityGroupID:     rg.SecurityGroupID,
		SecurityPolicy:      policy,
		QueueName:           rg.QueueName,
	}, nil
}

func (r DataSetReaderSpec) toPubsubConfig(logger *slog.Logger, groupName string) (pubsub.DataSetReaderConfig, error) {
	fields := make([]pubsub.FieldConfig, len(r.Fields))
	targets := make([]pubsub.TargetVariable, len(r.Fields))
	for i, f := range r.Fields {
		fc, err := f.toCodec()
		if err != nil {
			return pubsub.DataSetReaderConfig{}, err
		}
		fields[i] = fc

		fieldName, fieldIndex := f.Name, i
		targets[i] = pubsub.TargetVariable{
			FieldIndex: fieldIndex,
			Write: func(data []byte) error {
				logger.Debug("dataset field delivered",
					"readergroup", groupName, "reader", r.Name, "field", fieldName, "bytes", len(data))
				return nil
			},
		}
	}

	return pubsub.DataSetReaderConfig{
		PublisherID:     r.PublisherID.toCodec(),
		WriterGroupID:   r.WriterGroupID,
		DataSetWriterID: r.DataSetWriterID,
		Fields:          fields,
		TargetVariables: targets,
	}, nil
}
