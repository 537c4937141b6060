package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/config"
	pkgerrors "github.com/UDDITwork/ZAMMER-sub011/pkg/errors"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/redis"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/security"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/sms"
)

// Service manages the one-time codes gating delivery handoff. Codes live only
// in Redis as argon2id hashes; the order row records whether verification
// happened, never the code itself.
type Service interface {
	// Issue generates a fresh code, stores its hash, and delivers it to the
	// buyer. Issuing again overwrites the previous code, superseding it.
	Issue(ctx context.Context, orderID uuid.UUID, phone string) error
	// Verify compares the code against the stored hash and deletes it on
	// success, making every code single-use.
	Verify(ctx context.Context, orderID uuid.UUID, code string) error
}

type service struct {
	store  redis.OtpStore
	sender sms.Sender
	cfg    config.OtpConfig
	logg   *logger.Logger
}

// NewService wires the OTP service onto its Redis store and SMS transport.
func NewService(store redis.OtpStore, sender sms.Sender, cfg config.OtpConfig, logg *logger.Logger) (Service, error) {
	if store == nil {
		return nil, errors.New("otp store required")
	}
	if sender == nil {
		return nil, errors.New("sms sender required")
	}
	if cfg.CodeLength <= 0 {
		return nil, errors.New("otp code length must be positive")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("otp ttl must be positive")
	}
	return &service{store: store, sender: sender, cfg: cfg, logg: logg}, nil
}

func (s *service) Issue(ctx context.Context, orderID uuid.UUID, phone string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if phone == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer phone required")
	}

	code, err := security.GenerateNumericCode(s.cfg.CodeLength)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate otp code")
	}
	hash, err := security.HashCode(code)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash otp code")
	}

	key := s.store.OtpKey(orderID.String())
	if err := s.store.Set(ctx, key, hash, s.cfg.TTL); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store otp hash")
	}

	message := fmt.Sprintf("Your ZAMMER delivery code is %s. It expires in %d minutes. Share it only with the delivery agent at your door.", code, int(s.cfg.TTL/time.Minute))
	if err := s.sender.Send(ctx, phone, message); err != nil {
		// The stale hash must not outlive a failed delivery.
		if delErr := s.store.Del(ctx, key); delErr != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()), "cleaning up undelivered otp failed")
		}
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deliver otp")
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "otp issued")
	}
	return nil
}

func (s *service) Verify(ctx context.Context, orderID uuid.UUID, code string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if code == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "otp code required")
	}

	key := s.store.OtpKey(orderID.String())
	hash, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return pkgerrors.New(pkgerrors.CodeInvalidOtp, "otp expired or not issued")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load otp hash")
	}

	ok, err := security.VerifyCode(code, hash)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compare otp hash")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeInvalidOtp, "otp does not match")
	}

	// Single use: a verified code can never be replayed.
	if err := s.store.Del(ctx, key); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume otp")
	}
	return nil
}
