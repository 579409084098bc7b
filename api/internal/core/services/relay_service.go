package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

// StoreSecretInput is what the relay accepts: an already-sealed blob.
type StoreSecretInput struct {
	Ciphertext        string `json:"ciphertext" validate:"required,max=65536,base64"`
	ExpiresIn         int64  `json:"expires_in" validate:"required,oneof=60000 3600000 86400000 604800000"`
	PasswordProtected bool   `json:"password_protected"`
}

// StoredSecret is returned to the creator only.
type StoredSecret struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	BurnToken string    `json:"burn_token"`
}

// RelayService is the server-side face of the store. It handles ciphertext
// only and has no way to decrypt anything it holds.
type RelayService struct {
	store  domain.SecretStore
	tokens *TokenService
	events domain.EventPublisher
	clock  domain.Clock
	logger *slog.Logger
}

func NewRelayService(
	store domain.SecretStore,
	tokens *TokenService,
	events domain.EventPublisher,
	clock domain.Clock,
	logger *slog.Logger,
) *RelayService {
	if events == nil {
		events = domain.NopPublisher{}
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &RelayService{store: store, tokens: tokens, events: events, clock: clock, logger: logger}
}

// Store persists a sealed blob and mints the creator's burn token.
func (s *RelayService) Store(ctx context.Context, in StoreSecretInput) (*StoredSecret, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	ttl, err := domain.TTLFromMillis(in.ExpiresIn)
	if err != nil {
		return nil, err
	}

	id, err := s.store.Put(ctx, domain.NewSecretRecord{
		Ciphertext:        in.Ciphertext,
		PasswordProtected: in.PasswordProtected,
	}, ttl)
	if err != nil {
		s.logger.Error("Failed to store secret", slog.Any("error", err))
		return nil, err
	}

	// The creator is told the expiry the store stamped, not an estimate
	expiresAt, ok, err := s.store.ExpiresAt(ctx, id)
	if err == nil && !ok {
		err = &domain.StorageError{Op: "expires_at", Err: fmt.Errorf("secret %s vanished after put", id)}
	}

	var token string
	if err == nil {
		token, err = s.tokens.IssueBurnToken(id, expiresAt)
	}
	if err != nil {
		// Nobody could ever revoke it; drop it rather than keep an orphan
		s.rollback(ctx, id)
		return nil, err
	}

	s.logger.Info("Secret stored",
		slog.String("id", id),
		slog.Bool("password_protected", in.PasswordProtected),
		slog.Duration("ttl", ttl),
	)
	s.events.Publish(domain.SecretEvent{ID: id, Type: domain.EventCreated, At: s.clock.Now()})

	return &StoredSecret{ID: id, ExpiresAt: expiresAt, BurnToken: token}, nil
}

func (s *RelayService) rollback(ctx context.Context, id string) {
	if _, err := s.store.TakeAndDelete(ctx, id); err != nil {
		s.logger.Error("Failed to roll back secret", slog.String("id", id), slog.Any("error", err))
	}
}

// Take hands the blob to exactly one caller and destroys it.
func (s *RelayService) Take(ctx context.Context, id string) (*domain.SecretRecord, error) {
	if !domain.IsValidSecretID(id) {
		return nil, domain.ErrNotFoundOrExpired
	}

	rec, err := s.store.TakeAndDelete(ctx, id)
	if err != nil {
		s.logger.Error("Failed to take secret", slog.String("id", id), slog.Any("error", err))
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNotFoundOrExpired
	}

	s.logger.Info("Secret consumed", slog.String("id", id))
	s.events.Publish(domain.SecretEvent{ID: id, Type: domain.EventConsumed, At: s.clock.Now()})
	return rec, nil
}

func (s *RelayService) Exists(ctx context.Context, id string) (bool, error) {
	if !domain.IsValidSecretID(id) {
		return false, nil
	}
	return s.store.Exists(ctx, id)
}

// Lookup reports the stamped expiry of a live secret without consuming it.
func (s *RelayService) Lookup(ctx context.Context, id string) (time.Time, bool, error) {
	if !domain.IsValidSecretID(id) {
		return time.Time{}, false, nil
	}
	return s.store.ExpiresAt(ctx, id)
}

// Burn destroys the secret on behalf of its creator.
func (s *RelayService) Burn(ctx context.Context, id, burnToken string) error {
	if err := s.Authorize(id, burnToken); err != nil {
		return err
	}

	rec, err := s.store.TakeAndDelete(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.ErrNotFoundOrExpired
	}

	s.logger.Info("Secret burned", slog.String("id", id))
	s.events.Publish(domain.SecretEvent{ID: id, Type: domain.EventBurned, At: s.clock.Now()})
	return nil
}

// Authorize checks that burnToken was minted for id and is still valid.
// Expiry decisions belong to the store; see Lookup.
func (s *RelayService) Authorize(id, burnToken string) error {
	if burnToken == "" {
		return domain.ErrUnauthorized
	}
	if _, err := s.tokens.VerifyBurnToken(burnToken, id); err != nil {
		s.logger.Warn("Rejected burn token", slog.String("id", id), slog.Any("error", err))
		return err
	}
	return nil
}

// Now exposes the relay clock so handlers agree with the store on expiry.
func (s *RelayService) Now() time.Time { return s.clock.Now() }
