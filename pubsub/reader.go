package pubsub

import (
	"log/slog"

	"github.com/gauravks/open62541/codec"
)

// DataSetReader subscribes to one (PublisherId, WriterGroupId,
// DataSetWriterId) tuple within a ReaderGroup and writes decoded field
// data into its configured target variables.
type DataSetReader struct {
	id     Identifier
	group  *ReaderGroup
	config DataSetReaderConfig

	state State
	cause Cause

	frozen       bool
	offsetBuffer *OffsetBuffer

	logger *slog.Logger
}

func newDataSetReader(id Identifier, group *ReaderGroup, cfg DataSetReaderConfig, logger *slog.Logger) *DataSetReader {
	return &DataSetReader{
		id:           id,
		group:        group,
		config:       cfg,
		state:        StateDisabled,
		offsetBuffer: NewOffsetBuffer(cfg.Fields, false),
		logger:       logger,
	}
}

// ID returns the reader's Manager-minted identifier.
func (r *DataSetReader) ID() Identifier { return r.id }

// State returns the reader's current lifecycle state.
func (r *DataSetReader) State() State { return r.state }

// Config returns a deep copy of the reader's configuration.
func (r *DataSetReader) Config() DataSetReaderConfig { return r.config.clone() }

// MatchesHeaders reports whether a decoded NetworkMessage's headers
// carry this reader's expected PublisherId, WriterGroupId and
// DataSetWriterId (the latter via the PayloadHeader's writer id list).
// Mismatch is silent, per the identifier-check contract.
func (r *DataSetReader) MatchesHeaders(h codec.Headers) bool {
	if !h.PublisherID.Equal(r.config.PublisherID) {
		return false
	}
	if h.WriterGroupID != r.config.WriterGroupID {
		return false
	}
	return containsWriterID(h.DataSetWriterIDs, r.config.DataSetWriterID)
}

// dispatch decodes ds's field data and writes it into every configured
// target variable. Returns true once the field data decoded and every
// target write succeeded, whether or not the reader has any targets;
// the caller counts that as a successful dispatch for promotion.
func (r *DataSetReader) dispatch(ds codec.DataSetMessage) (bool, error) {
	if ds.DataSetWriterID != r.config.DataSetWriterID {
		return false, nil
	}

	fields, err := r.offsetBuffer.Decode(ds.FieldData)
	if err != nil {
		return false, err
	}

	for _, tv := range r.config.TargetVariables {
		if tv.FieldIndex < 0 || tv.FieldIndex >= len(fields) {
			continue
		}
		if tv.Write == nil {
			continue
		}
		if err := tv.Write(fields[tv.FieldIndex]); err != nil {
			return false, err
		}
	}
	return true, nil
}

// setState drives the reader's own state and reports it through cb.
// Fatal decode errors land the reader (never its parent group) in
// StateError.
func (r *DataSetReader) setState(s State, cause Cause, cb StateChangeCallback) {
	if r.state == s {
		return
	}
	r.state = s
	r.cause = cause
	if cb != nil {
		cb(r.id, EntityDataSetReader, s, cause)
	}
}

// promoteOnFirstDispatch promotes a PreOperational reader to
// Operational the first time it successfully receives a frame.
func (r *DataSetReader) promoteOnFirstDispatch(cb StateChangeCallback) {
	if r.state == StatePreOperational {
		r.setState(StateOperational, CauseGood, cb)
	}
}

// freeze clears the reader's offset buffer (it is rebuilt lazily from
// the first received frame) and marks it frozen. fast selects the
// precomputed-offset decode path, set by the parent group only in
// FIXED_SIZE mode.
func (r *DataSetReader) freeze(fast bool) {
	r.frozen = true
	r.offsetBuffer = NewOffsetBuffer(r.config.Fields, fast)
}

func (r *DataSetReader) unfreeze() {
	r.frozen = false
	r.offsetBuffer = NewOffsetBuffer(r.config.Fields, false)
}

func containsWriterID(ids []uint16, target uint16) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
