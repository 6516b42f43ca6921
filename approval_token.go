package main

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultApprovalTokenTTL = 300 * time.Second

// ApprovalToken is a single-use, time-boxed credential binding one
// approval decision to one exact (intent, transaction-hash) pair.
// Lifecycle: issued -> consumed, or issued -> expired; both terminal.
type ApprovalToken struct {
	ID            string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	IntentID      string `gorm:"column:intent_id;type:varchar(64);not null;index" json:"intent_id"`
	TxRequestHash string `gorm:"column:tx_request_hash;type:varchar(66);not null" json:"tx_request_hash"`
	IssuedAt      int64  `gorm:"column:issued_at;not null;index" json:"issued_at"`
	TTLSeconds    int64  `gorm:"column:ttl_seconds;not null" json:"ttl_seconds"`
	Consumed      bool   `gorm:"column:consumed;not null" json:"consumed"`
}

func (ApprovalToken) TableName() string {
	return "approval_tokens"
}

// ExpiresAt returns the instant the token stops validating.
func (t *ApprovalToken) ExpiresAt() time.Time {
	return time.Unix(t.IssuedAt+t.TTLSeconds, 0)
}

// TokenStore is the persistence contract for approval tokens. The store
// exclusively owns token rows; no other component mutates them.
type TokenStore interface {
	Insert(ctx context.Context, token *ApprovalToken) error
	Get(ctx context.Context, id string) (*ApprovalToken, error)
	// ConsumeIfUnconsumed atomically flips consumed to true and reports
	// whether this call was the one that did it. Two concurrent signers
	// can never both receive true for the same token.
	ConsumeIfUnconsumed(ctx context.Context, id string) (bool, error)
	// DeleteExpired removes tokens whose TTL elapsed before now (epoch
	// seconds) and returns the number deleted.
	DeleteExpired(ctx context.Context, now int64) (int64, error)
}

type GormTokenStore struct {
	db *gorm.DB
}

func NewGormTokenStore(db *gorm.DB) *GormTokenStore {
	return &GormTokenStore{db: db}
}

func (s *GormTokenStore) Insert(ctx context.Context, token *ApprovalToken) error {
	return s.db.WithContext(ctx).Create(token).Error
}

func (s *GormTokenStore) Get(ctx context.Context, id string) (*ApprovalToken, error) {
	var token ApprovalToken
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *GormTokenStore) ConsumeIfUnconsumed(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ApprovalToken{}).
		Where("id = ? AND consumed = ?", id, false).
		Update("consumed", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormTokenStore) DeleteExpired(ctx context.Context, now int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("issued_at + ttl_seconds <= ?", now).
		Delete(&ApprovalToken{})
	return res.RowsAffected, res.Error
}

// approvalClaims repeat the token's binding inside the signed carrier so
// a forged or re-signed token string never reaches the store lookup.
type approvalClaims struct {
	IntentID      string `json:"intent_id"`
	TxRequestHash string `json:"tx_request_hash"`
	jwt.RegisteredClaims
}

// ApprovalTokenManager issues, validates and consumes approval tokens.
// Rows are persisted immediately on issue; the string handed to callers
// is an ES256 JWT whose jti is the row id.
type ApprovalTokenManager struct {
	store      TokenStore
	signingKey *ecdsa.PrivateKey
	metrics    *Metrics
	now        func() time.Time
	lg         Logger
}

// NewApprovalTokenManager creates a manager over the given store.
// metrics may be nil; validation counts are then not recorded.
func NewApprovalTokenManager(store TokenStore, signingKey *ecdsa.PrivateKey, metrics *Metrics, lg Logger) *ApprovalTokenManager {
	return &ApprovalTokenManager{
		store:      store,
		signingKey: signingKey,
		metrics:    metrics,
		now:        time.Now,
		lg:         lg.NewSystem("approval-tokens"),
	}
}

// Issue creates, persists and signs a token bound to the given intent and
// transaction request hash. A non-positive ttl selects the default.
func (m *ApprovalTokenManager) Issue(ctx context.Context, intentID, txRequestHash string, ttl time.Duration) (string, *ApprovalToken, error) {
	if ttl <= 0 {
		ttl = defaultApprovalTokenTTL
	}

	issuedAt := m.now()
	token := &ApprovalToken{
		ID:            uuid.NewString(),
		IntentID:      intentID,
		TxRequestHash: txRequestHash,
		IssuedAt:      issuedAt.Unix(),
		TTLSeconds:    int64(ttl.Seconds()),
	}
	if err := m.store.Insert(ctx, token); err != nil {
		return "", nil, err
	}

	claims := approvalClaims{
		IntentID:      intentID,
		TxRequestHash: txRequestHash,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        token.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", nil, err
	}

	m.lg.Info("approval token issued", "tokenID", token.ID, "intentID", intentID, "ttlSeconds", token.TTLSeconds)
	return signed, token, nil
}

// Validate verifies the token string's signature, loads the persisted
// row, and checks that it is unconsumed, unexpired and bound to exactly
// this intent and transaction request hash. A token issued for one
// intent or hash never validates another.
func (m *ApprovalTokenManager) Validate(ctx context.Context, tokenString, intentID, txRequestHash string) (*ApprovalToken, error) {
	token, err := m.validate(ctx, tokenString, intentID, txRequestHash)
	if m.metrics != nil {
		result := "valid"
		if err != nil {
			result = "invalid"
		}
		m.metrics.TokenValidations.WithLabelValues(result).Inc()
	}
	return token, err
}

func (m *ApprovalTokenManager) validate(ctx context.Context, tokenString, intentID, txRequestHash string) (*ApprovalToken, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &approvalClaims{}, func(t *jwt.Token) (any, error) {
		return &m.signingKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
	if err != nil {
		return nil, ApprovalInvalidErrorf("token signature rejected: %v", err)
	}
	claims, ok := parsed.Claims.(*approvalClaims)
	if !ok || claims.ID == "" {
		return nil, ApprovalInvalidErrorf("token carries no id")
	}

	token, err := m.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, ApprovalInvalidErrorf("token %s is unknown", claims.ID)
	}
	if token.Consumed {
		return nil, ApprovalInvalidErrorf("token %s was already consumed", token.ID)
	}
	if !m.now().Before(token.ExpiresAt()) {
		return nil, ApprovalInvalidErrorf("token %s expired at %s", token.ID, token.ExpiresAt().UTC().Format(time.RFC3339))
	}
	if token.IntentID != intentID || claims.IntentID != intentID {
		return nil, ApprovalInvalidErrorf("token %s is bound to a different intent", token.ID)
	}
	if token.TxRequestHash != txRequestHash || claims.TxRequestHash != txRequestHash {
		return nil, ApprovalInvalidErrorf("token %s is bound to a different transaction request", token.ID)
	}
	return token, nil
}

// Consume irreversibly marks the token consumed. Once consumed it never
// validates again, TTL notwithstanding.
func (m *ApprovalTokenManager) Consume(ctx context.Context, tokenID string) error {
	consumed, err := m.store.ConsumeIfUnconsumed(ctx, tokenID)
	if err != nil {
		return err
	}
	if !consumed {
		return ApprovalInvalidErrorf("token %s was already consumed or does not exist", tokenID)
	}
	m.lg.Info("approval token consumed", "tokenID", tokenID)
	return nil
}

// Cleanup deletes expired tokens. Unconsumed, unexpired tokens are never
// touched. Safe to run opportunistically or on a timer.
func (m *ApprovalTokenManager) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := m.store.DeleteExpired(ctx, m.now().Unix())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		m.lg.Info("expired approval tokens removed", "count", deleted)
	}
	return deleted, nil
}
