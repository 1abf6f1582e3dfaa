// Package audit provides an append-only, hash-chained record of
// deposit and redemption lifecycle transitions, independent of the
// structured application log and the durable store. A Recorder emits
// one Event per meaningful transition (queued, initialized, finalized,
// attestation fetched, bridged, redemption requested/completed/failed,
// manual intervention, terminal error) to a pluggable Sink. The default
// Sink writes to a *log.Logger; pkg/audit/firestoremirror ships a
// durable, queryable alternative.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// EntityType distinguishes the two kinds of records a Recorder tracks.
type EntityType string

const (
	EntityDeposit    EntityType = "deposit"
	EntityRedemption EntityType = "redemption"
)

// Event is a single audit entry. EntryHash chains from PreviousHash so
// a durable Sink can later verify the entry sequence for a given
// entity has not been tampered with or reordered.
type Event struct {
	EntryID      string                 `json:"entryId"`
	EntityType   EntityType             `json:"entityType"`
	EntityID     string                 `json:"entityId"`
	Chain        string                 `json:"chain"`
	Phase        string                 `json:"phase"`
	Action       string                 `json:"action"`
	Actor        string                 `json:"actor"`
	Timestamp    time.Time              `json:"timestamp"`
	PreviousHash string                 `json:"previousHash"`
	EntryHash    string                 `json:"entryHash"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// Sink persists or forwards audit Events. LatestEntryHash returns the
// EntryHash of the most recently written event for entityID, or "" if
// none exists yet; a Sink unable to answer that durably (e.g. a
// plain-log sink) may always return "", which degrades the hash chain
// to single-entry hashes rather than a verifiable chain.
type Sink interface {
	Write(ctx context.Context, event Event) error
	LatestEntryHash(ctx context.Context, entityID string) (string, error)
}

// Recorder computes entry hashes and dispatches Events to a Sink.
type Recorder struct {
	sink   Sink
	source string
	logger *log.Logger
}

// Config configures a Recorder.
type Config struct {
	Sink Sink

	// Source identifies this process in the Actor field, e.g. "relayer-1".
	Source string

	Logger *log.Logger
}

// NewRecorder constructs a Recorder. A nil Sink is replaced with a
// LogSink writing to cfg.Logger (or a default logger).
func NewRecorder(cfg Config) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[audit] ", log.LstdFlags)
	}
	if cfg.Sink == nil {
		cfg.Sink = NewLogSink(cfg.Logger)
	}
	if cfg.Source == "" {
		cfg.Source = "relayer"
	}
	return &Recorder{sink: cfg.Sink, source: cfg.Source, logger: cfg.Logger}
}

// RecordDepositQueued records a new deposit entering the pipeline.
func (r *Recorder) RecordDepositQueued(ctx context.Context, chain, depositID, btcFundingTxHash string) error {
	return r.record(ctx, EntityDeposit, depositID, chain, "queued",
		"Deposit observed and queued for L1 initialization",
		map[string]interface{}{"btcFundingTxHash": btcFundingTxHash})
}

// RecordDepositInitialized records a successful L1 initialize call.
func (r *Recorder) RecordDepositInitialized(ctx context.Context, chain, depositID, l1TxHash string) error {
	return r.record(ctx, EntityDeposit, depositID, chain, "initialized",
		"L1 initializeDeposit submitted", map[string]interface{}{"l1TxHash": l1TxHash})
}

// RecordDepositFinalized records a successful L1 finalize call.
func (r *Recorder) RecordDepositFinalized(ctx context.Context, chain, depositID, l1TxHash string) error {
	return r.record(ctx, EntityDeposit, depositID, chain, "finalized",
		"L1 finalizeDeposit submitted", map[string]interface{}{"l1TxHash": l1TxHash})
}

// RecordAttestationFetched records a successful VAA fetch for a deposit.
func (r *Recorder) RecordAttestationFetched(ctx context.Context, chain, depositID string, sequence uint64) error {
	return r.record(ctx, EntityDeposit, depositID, chain, "awaiting_attestation",
		"Wormhole VAA fetched", map[string]interface{}{"transferSequence": sequence})
}

// RecordDepositBridged records a deposit reaching its terminal bridged state.
func (r *Recorder) RecordDepositBridged(ctx context.Context, chain, depositID, l2TxHash string) error {
	return r.record(ctx, EntityDeposit, depositID, chain, "bridged",
		"tBTC minted on destination chain", map[string]interface{}{"l2TxHash": l2TxHash})
}

// RecordRedemptionRequested records a redemption entering the pipeline.
func (r *Recorder) RecordRedemptionRequested(ctx context.Context, chain, redemptionID string, amountSat uint64) error {
	return r.record(ctx, EntityRedemption, redemptionID, chain, "pending",
		"Redemption request observed", map[string]interface{}{"amountSat": amountSat})
}

// RecordRedemptionVaaFetched records a successful VAA fetch for a redemption.
func (r *Recorder) RecordRedemptionVaaFetched(ctx context.Context, chain, redemptionID string, sequence uint64) error {
	return r.record(ctx, EntityRedemption, redemptionID, chain, "vaa_fetched",
		"Wormhole VAA fetched for redemption", map[string]interface{}{"transferSequence": sequence})
}

// RecordRedemptionCompleted records a redemption reaching its terminal state.
func (r *Recorder) RecordRedemptionCompleted(ctx context.Context, chain, redemptionID, l1TxHash string) error {
	return r.record(ctx, EntityRedemption, redemptionID, chain, "completed",
		"L1 finalizeL2Redemption submitted", map[string]interface{}{"l1TxHash": l1TxHash})
}

// RecordError records a non-terminal or terminal error for an entity.
func (r *Recorder) RecordError(ctx context.Context, entityType EntityType, entityID, chain, phase string, err error) error {
	return r.record(ctx, entityType, entityID, chain, phase,
		fmt.Sprintf("Error: %s", err), map[string]interface{}{"isError": true})
}

// RecordManualIntervention records an operator-driven override, e.g. a
// status forced via an admin endpoint after exhausting retries.
func (r *Recorder) RecordManualIntervention(ctx context.Context, entityType EntityType, entityID, chain, reason, operator string) error {
	return r.record(ctx, entityType, entityID, chain, "manual_intervention",
		fmt.Sprintf("Manual intervention: %s", reason),
		map[string]interface{}{"operator": operator})
}

func (r *Recorder) record(ctx context.Context, entityType EntityType, entityID, chain, phase, action string, details map[string]interface{}) error {
	previousHash, err := r.sink.LatestEntryHash(ctx, entityID)
	if err != nil {
		r.logger.Printf("audit: failed to read previous hash for entity=%s: %v", entityID, err)
	}

	event := Event{
		EntryID:      uuid.New().String(),
		EntityType:   entityType,
		EntityID:     entityID,
		Chain:        chain,
		Phase:        phase,
		Action:       action,
		Actor:        r.source,
		Timestamp:    time.Now(),
		PreviousHash: previousHash,
		Details:      details,
	}
	event.EntryHash = computeEntryHash(event)

	return r.sink.Write(ctx, event)
}

// computeEntryHash hashes the deterministic fields of an Event,
// chaining from PreviousHash so a durable Sink can verify sequence
// integrity later.
func computeEntryHash(e Event) string {
	data := map[string]interface{}{
		"entityType":   e.EntityType,
		"entityId":     e.EntityID,
		"chain":        e.Chain,
		"phase":        e.Phase,
		"action":       e.Action,
		"actor":        e.Actor,
		"timestamp":    e.Timestamp.UnixNano(),
		"previousHash": e.PreviousHash,
		"details":      e.Details,
	}

	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
