package main

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit event tags written by the signing core.
const (
	EventIntentReceived   = "intent_received"
	EventPlanBuilt        = "plan_built"
	EventPolicyEvaluated  = "policy_evaluated"
	EventApprovalPending  = "approval_pending"
	EventApprovalDecided  = "approval_decided"
	EventTokenIssued      = "approval_token_issued"
	EventSigningDenied    = "signing_denied"
	EventSignatureCreated = "signature_created"
)

// AuditEvent is one immutable row in the append-only audit trail.
type AuditEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Timestamp int64          `gorm:"column:timestamp;not null;index;index:idx_audit_intent_ts" json:"timestamp"`
	IntentID  string         `gorm:"column:intent_id;type:varchar(64);not null;index:idx_audit_intent_ts" json:"intent_id"`
	Event     string         `gorm:"column:event;type:varchar(64);not null;index" json:"event"`
	Data      datatypes.JSON `gorm:"column:data;type:text" json:"data,omitempty"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

// RateLimitTick is one signing attempt by a wallet. Ticks are recorded
// independently of audit events so rate-limit counting is unaffected by
// audit retention.
type RateLimitTick struct {
	ID            uint   `gorm:"primaryKey"`
	WalletAddress string `gorm:"column:wallet_address;type:varchar(64);not null;index:idx_tick_wallet_ts"`
	Timestamp     int64  `gorm:"column:timestamp;not null;index:idx_tick_wallet_ts"`
}

func (RateLimitTick) TableName() string {
	return "rate_limit_ticks"
}

// Ledger is the append-only audit and rate-limit store. Policy consumes
// its per-wallet counters; everything else is observability.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLedger creates a ledger over the given database handle.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Log appends one audit event. data is serialized as a JSON payload;
// a nil data records an event with no payload.
func (l *Ledger) Log(ctx context.Context, intentID, event string, data any) error {
	var payload datatypes.JSON
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		payload = raw
	}

	row := &AuditEvent{
		Timestamp: l.now().UnixMilli(),
		IntentID:  intentID,
		Event:     event,
		Data:      payload,
	}
	return l.db.WithContext(ctx).Create(row).Error
}

// GetTrail returns every event recorded for an intent in ascending
// timestamp order.
func (l *Ledger) GetTrail(ctx context.Context, intentID string) ([]AuditEvent, error) {
	var events []AuditEvent
	err := l.db.WithContext(ctx).
		Where("intent_id = ?", intentID).
		Order("timestamp " + SortTypeAscending.ToString()).
		Order("id " + SortTypeAscending.ToString()).
		Find(&events).Error
	return events, err
}

// GetRecentEvents returns up to limit events, newest first.
func (l *Ledger) GetRecentEvents(ctx context.Context, limit uint32) ([]AuditEvent, error) {
	query := applyListOptions(l.db.WithContext(ctx), "timestamp", SortTypeDescending, &ListOptions{Limit: limit})

	var events []AuditEvent
	err := query.Find(&events).Error
	return events, err
}

// RecordRateLimitTick appends one timestamped tick for a signing attempt.
func (l *Ledger) RecordRateLimitTick(ctx context.Context, wallet string) error {
	tick := &RateLimitTick{
		WalletAddress: wallet,
		Timestamp:     l.now().UnixMilli(),
	}
	return l.db.WithContext(ctx).Create(tick).Error
}

// CountRecentTxByWallet counts ticks strictly younger than windowMs.
// The boundary is exclusive: a tick exactly windowMs old does not count.
func (l *Ledger) CountRecentTxByWallet(ctx context.Context, wallet string, windowMs int64) (int, error) {
	cutoff := l.now().UnixMilli() - windowMs

	var count int64
	err := l.db.WithContext(ctx).Model(&RateLimitTick{}).
		Where("wallet_address = ? AND timestamp > ?", wallet, cutoff).
		Count(&count).Error
	return int(count), err
}
