package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/irgordon/whisper/api/internal/core/domain"
)

// CreateSecretInput is everything the creator supplies. Message and Password
// never leave this process in the clear.
type CreateSecretInput struct {
	Message     string `json:"message" validate:"required,max=10000"`
	ExpiresIn   int64  `json:"expires_in" validate:"required,oneof=60000 3600000 86400000 604800000"`
	UsePassword bool   `json:"use_password"`
	Password    string `json:"password"`
}

// SecretService coordinates the full lifecycle of a one-time secret: it is
// the only component that holds plaintext, keys and passwords. It runs
// wherever the key lives (the CLI or an embedding program), never on the relay.
type SecretService struct {
	store  domain.SecretStore
	cipher domain.SecretCipher
	events domain.EventPublisher
	clock  domain.Clock
	logger *slog.Logger
}

type SecretServiceOption func(*SecretService)

// WithEvents publishes lifecycle transitions to pub.
func WithEvents(pub domain.EventPublisher) SecretServiceOption {
	return func(s *SecretService) { s.events = pub }
}

func WithClock(c domain.Clock) SecretServiceOption {
	return func(s *SecretService) { s.clock = c }
}

func NewSecretService(
	store domain.SecretStore,
	cipher domain.SecretCipher,
	logger *slog.Logger,
	opts ...SecretServiceOption,
) *SecretService {
	s := &SecretService{
		store:  store,
		cipher: cipher,
		events: domain.NopPublisher{},
		clock:  domain.SystemClock{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates, encrypts and stores a message. The returned locator holds
// the generated key for secrets without a password; that key exists nowhere else.
func (s *SecretService) Create(ctx context.Context, in CreateSecretInput) (*domain.Locator, error) {
	// 1. Validation happens before any crypto or storage work
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	ttl, err := domain.TTLFromMillis(in.ExpiresIn)
	if err != nil {
		return nil, err
	}

	// 2. Pick the secret: the password, or a fresh key for the URL fragment
	secret, key := in.Password, ""
	if !in.UsePassword {
		key = s.cipher.GenerateKey()
		secret = key
	}

	// 3. Seal, then persist only the opaque blob
	blob, err := s.cipher.Encrypt(ctx, []byte(in.Message), secret)
	if err != nil {
		return nil, err
	}

	id, err := s.store.Put(ctx, domain.NewSecretRecord{
		Ciphertext:        blob,
		PasswordProtected: in.UsePassword,
	}, ttl)
	if err != nil {
		s.logger.Error("Failed to store secret", slog.Any("error", err))
		return nil, err
	}

	s.logger.Info("Secret created",
		slog.String("id", id),
		slog.Bool("password_protected", in.UsePassword),
		slog.Duration("ttl", ttl),
	)
	s.events.Publish(domain.SecretEvent{ID: id, Type: domain.EventCreated, At: s.clock.Now()})

	return &domain.Locator{ID: id, Key: key}, nil
}

func validateCreate(in CreateSecretInput) error {
	var errs domain.ValidationErrors
	if err := validateStruct(in); err != nil {
		if !errors.As(err, &errs) {
			return err
		}
	}
	// A blank message passes "required"; the stored text itself is never trimmed
	if in.Message != "" && strings.TrimSpace(in.Message) == "" {
		errs = append(errs, domain.NewValidationError("message", "is required"))
	}
	// Password rules only apply once protection is switched on
	if in.UsePassword && utf8.RuneCountInString(in.Password) < domain.MinPasswordLength {
		errs = append(errs, domain.NewValidationError("password",
			fmt.Sprintf("must be at least %d characters", domain.MinPasswordLength)))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Access consumes the secret and decrypts it with suppliedSecret (the
// fragment key or the password). The record is destroyed before decryption
// is attempted, so a wrong password still burns it.
func (s *SecretService) Access(ctx context.Context, id, suppliedSecret string) ([]byte, error) {
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
	s.events.Publish(domain.SecretEvent{ID: id, Type: domain.EventConsumed, At: s.clock.Now()})

	plaintext, err := s.cipher.Decrypt(ctx, rec.Ciphertext, suppliedSecret)
	if err != nil {
		// 🛡️ No detail: a wrong password and a tampered blob look the same
		s.logger.Warn("Secret consumed but could not be decrypted", slog.String("id", id))
		return nil, domain.ErrDecryption
	}

	s.logger.Info("Secret consumed", slog.String("id", id))
	return plaintext, nil
}

// Open is Access driven by a parsed locator. A password-protected locator
// with no password is rejected before the record is touched.
func (s *SecretService) Open(ctx context.Context, loc domain.Locator, password string) ([]byte, error) {
	secret := loc.Key
	if loc.PasswordProtected() {
		if password == "" {
			return nil, domain.NewValidationError("password", "is required for this secret")
		}
		secret = password
	}
	return s.Access(ctx, loc.ID, secret)
}

// Exists is a read-only check; it never consumes the secret.
func (s *SecretService) Exists(ctx context.Context, id string) (bool, error) {
	if !domain.IsValidSecretID(id) {
		return false, nil
	}
	return s.store.Exists(ctx, id)
}

// Burn destroys a secret without decrypting it.
func (s *SecretService) Burn(ctx context.Context, id string) error {
	if !domain.IsValidSecretID(id) {
		return domain.ErrNotFoundOrExpired
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
