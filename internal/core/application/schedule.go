package application

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenwallet/custody/internal/core/domain"
	"github.com/lumenwallet/custody/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

type ScheduleRequest struct {
	Recipient string `validate:"required,hexadecimal,len=66"`
	Asset     string `validate:"required"`
	Amount    uint64 `validate:"gt=0,lte=9223372036854775807"`
	Memo      string
	Frequency string    `validate:"required"`
	ExecuteAt time.Time `validate:"required"`
	// EndAt optionally bounds a recurring series.
	EndAt time.Time
}

// ScheduleService manages the scheduled payments of the unlocked wallet. The
// paying secret is sealed under the master password of the executor, so
// payments run without the wallet session.
type ScheduleService struct {
	repo     domain.ScheduledPaymentRepository
	custody  ports.KeyCustody
	builder  ports.TxBuilder
	session  *SessionKeyCache
	unlocker ports.Unlocker
	now      func() time.Time
}

func NewScheduleService(
	repo domain.ScheduledPaymentRepository, custody ports.KeyCustody,
	builder ports.TxBuilder, session *SessionKeyCache, unlocker ports.Unlocker,
) *ScheduleService {
	return &ScheduleService{repo, custody, builder, session, unlocker, time.Now}
}

func (s *ScheduleService) WithClock(now func() time.Time) *ScheduleService {
	s.now = now
	return s
}

func (s *ScheduleService) Create(
	ctx context.Context, req ScheduleRequest,
) (*domain.ScheduledPayment, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}
	frequency, err := domain.ParseFrequency(req.Frequency)
	if err != nil {
		return nil, err
	}
	asset, err := domain.ParseAsset(req.Asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	now := s.now()
	if req.ExecuteAt.Before(now) {
		return nil, domain.InvalidInputError("execution time is in the past")
	}
	if !req.EndAt.IsZero() {
		if frequency == domain.FrequencyOnce {
			return nil, domain.InvalidInputError("end time needs a recurring frequency")
		}
		if req.EndAt.Before(req.ExecuteAt) {
			return nil, domain.InvalidInputError("end time is before the first execution")
		}
	}

	password, err := s.unlocker.GetPassword(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get master password: %w", err)
	}
	defer domain.Wipe(password)

	type sealed struct {
		owner  string
		secret *domain.EncryptedSecret
	}
	res, ok, err := WithKey(s.session, func(secret []byte) (sealed, error) {
		owner, err := s.builder.PublicKey(secret)
		if err != nil {
			return sealed{}, err
		}
		if owner == req.Recipient {
			return sealed{}, domain.InvalidInputError("recipient is the paying account")
		}
		blob, err := s.custody.Encrypt(secret, password)
		if err != nil {
			return sealed{}, err
		}
		return sealed{owner, blob}, nil
	})
	if !ok {
		return nil, domain.ErrExpiredSession
	}
	if err != nil {
		return nil, err
	}

	payment := domain.NewScheduledPayment(
		res.owner, *res.secret, req.Recipient, asset.String(), req.Amount,
		req.Memo, frequency, req.ExecuteAt, now,
	)
	if !req.EndAt.IsZero() {
		payment.EndAt = req.EndAt.UTC()
	}
	if err := s.repo.Add(ctx, payment); err != nil {
		return nil, err
	}

	log.Debugf("scheduled payment %s created, first execution at %s", payment.Id, payment.ExecuteAt)
	return &payment, nil
}

// Cancel stops a pending or paused payment of owner. Executed or failed rows
// are left as they are.
func (s *ScheduleService) Cancel(ctx context.Context, id, owner string) error {
	payment, err := s.owned(ctx, id, owner)
	if err != nil {
		return err
	}
	if payment.Status != domain.PaymentPending && payment.Status != domain.PaymentPaused {
		return domain.InvalidInputError(
			"scheduled payment %s is %s and can't be cancelled", id, payment.Status,
		)
	}
	return s.repo.Cancel(ctx, id, payment.Version)
}

// Pause keeps a pending payment of owner from running until resumed.
func (s *ScheduleService) Pause(ctx context.Context, id, owner string) error {
	payment, err := s.owned(ctx, id, owner)
	if err != nil {
		return err
	}
	if payment.Status != domain.PaymentPending {
		return domain.InvalidInputError(
			"scheduled payment %s is %s and can't be paused", id, payment.Status,
		)
	}
	return s.repo.Pause(ctx, id, payment.Version)
}

// Resume makes a paused payment pending again. If its execution time passed
// while paused, it runs with the next batch.
func (s *ScheduleService) Resume(ctx context.Context, id, owner string) error {
	payment, err := s.owned(ctx, id, owner)
	if err != nil {
		return err
	}
	if payment.Status != domain.PaymentPaused {
		return domain.InvalidInputError(
			"scheduled payment %s is %s and can't be resumed", id, payment.Status,
		)
	}
	return s.repo.Resume(ctx, id, payment.Version)
}

func (s *ScheduleService) List(
	ctx context.Context, owner string,
) ([]domain.ScheduledPayment, error) {
	return s.repo.ListByOwner(ctx, owner)
}

func (s *ScheduleService) owned(
	ctx context.Context, id, owner string,
) (*domain.ScheduledPayment, error) {
	payment, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.OwnerRef != owner {
		return nil, fmt.Errorf("%w: scheduled payment %s", domain.ErrNotFound, id)
	}
	return payment, nil
}
