package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/domain/port/driven"
	"github.com/ericfisherdev/sponsoredissues/internal/metrics"
)

// Ledger validation errors. Each one describes a request the caller can fix.
var (
	ErrNegativeAmount      = errors.New("amount must not be negative")
	ErrSelfAllocation      = errors.New("you cannot fund your own issues")
	ErrInsufficientBalance = errors.New("amount exceeds your available sponsorship balance")
	ErrInvalidAmount       = model.ErrInvalidAmount
	ErrIssueNotFound       = driven.ErrIssueNotFound
)

// ErrBalanceUnavailable is returned when the lifetime sponsorship total could
// not be read from GitHub. No write happens.
var ErrBalanceUnavailable = errors.New("sponsorship balance unavailable")

// IsValidationError reports whether err is a ledger rejection the caller caused.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrSelfAllocation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount)
}

// LedgerService maintains sponsor allocations. For every sponsor S and
// recipient R the sum of S's allocations to R's issues never exceeds the
// lifetime amount S has sponsored R, as reported by GitHub when the write is
// made.
type LedgerService struct {
	allocations driven.AllocationStore
	gateway     driven.GitHubGateway
	locks       *keyedMutex
	now         func() time.Time
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(allocations driven.AllocationStore, gateway driven.GitHubGateway) *LedgerService {
	return &LedgerService{
		allocations: allocations,
		gateway:     gateway,
		locks:       newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetAllocationDollars parses a dollar amount and applies it with SetAllocation.
func (s *LedgerService) SetAllocationDollars(ctx context.Context, sponsor model.Sponsor, recipient string, ref model.IssueRef, dollars string) (model.AllocationChange, error) {
	cents, err := model.ParseDollars(dollars)
	if err != nil {
		metrics.AllocationWrites.WithLabelValues("rejected").Inc()
		return model.AllocationChange{}, err
	}
	return s.SetAllocation(ctx, sponsor, recipient, ref, cents)
}

// SetAllocation sets the sponsor's allocation to the issue to cents. Zero
// removes an existing allocation. The request is rejected when it would push
// the sponsor's total toward recipient above their lifetime sponsorship.
func (s *LedgerService) SetAllocation(ctx context.Context, sponsor model.Sponsor, recipient string, ref model.IssueRef, cents int64) (model.AllocationChange, error) {
	change, err := s.setAllocation(ctx, sponsor, recipient, ref, cents)

	switch {
	case err == nil:
		metrics.AllocationWrites.WithLabelValues(string(change.Kind)).Inc()
		slog.Info("allocation written",
			"sponsor", sponsor.Login,
			"issue", change.IssueURL,
			"kind", change.Kind,
			"previous_cents", change.PreviousCents,
			"cents", change.Cents,
			"available_cents", change.AvailableCents,
		)
	case IsValidationError(err) || errors.Is(err, ErrIssueNotFound):
		metrics.AllocationWrites.WithLabelValues("rejected").Inc()
		slog.Info("allocation rejected", "sponsor", sponsor.Login, "issue", ref.String(), "cents", cents, "reason", err)
	default:
		metrics.AllocationWrites.WithLabelValues("failed").Inc()
		slog.Error("allocation failed", "sponsor", sponsor.Login, "issue", ref.String(), "cents", cents, "error", err)
	}

	return change, err
}

func (s *LedgerService) setAllocation(ctx context.Context, sponsor model.Sponsor, recipient string, ref model.IssueRef, cents int64) (model.AllocationChange, error) {
	if cents < 0 {
		return model.AllocationChange{}, fmt.Errorf("%w: %s", ErrNegativeAmount, model.FormatCents(cents))
	}
	if strings.EqualFold(sponsor.Login, recipient) {
		return model.AllocationChange{}, ErrSelfAllocation
	}
	// The recipient of an issue is its owner.
	if !strings.EqualFold(ref.Owner, recipient) {
		return model.AllocationChange{}, fmt.Errorf("%s is not owned by %s: %w", ref, recipient, ErrIssueNotFound)
	}

	unlock := s.locks.Lock(strings.ToLower(sponsor.Login) + "\x00" + strings.ToLower(recipient))
	defer unlock()

	// Unknown issues are reported before the balance is consulted.
	if err := s.allocations.WithinTx(ctx, func(tx driven.LedgerTx) error {
		issue, err := tx.GetIssue(ctx, ref)
		if err != nil {
			return err
		}
		if issue == nil {
			return fmt.Errorf("%s: %w", ref, ErrIssueNotFound)
		}
		return nil
	}); err != nil {
		return model.AllocationChange{}, err
	}

	// The lifetime lookup runs outside the write transaction. The keyed lock
	// excludes every other write for this sponsor and recipient until we return.
	lifetime, err := s.gateway.LifetimeSponsorshipCents(ctx, sponsor.AccessToken, recipient)
	if err != nil {
		return model.AllocationChange{}, fmt.Errorf("%w: %w", ErrBalanceUnavailable, err)
	}

	var change model.AllocationChange
	err = s.allocations.WithinTx(ctx, func(tx driven.LedgerTx) error {
		issue, err := tx.GetIssue(ctx, ref)
		if err != nil {
			return err
		}
		if issue == nil {
			return fmt.Errorf("%s: %w", ref, ErrIssueNotFound)
		}

		existing, err := tx.GetAllocation(ctx, sponsor.Login, issue.URL)
		if err != nil {
			return err
		}
		var previous int64
		if a, ok := existing.Get(); ok {
			previous = a.Cents
		}

		allocated, err := tx.SumAllocated(ctx, sponsor.Login, recipient)
		if err != nil {
			return err
		}
		other := allocated - previous
		available := lifetime - other

		change = model.AllocationChange{
			IssueURL:       issue.URL,
			PreviousCents:  previous,
			Cents:          cents,
			LifetimeCents:  lifetime,
			AvailableCents: available,
		}

		if cents > available {
			return fmt.Errorf("%w: requested $%s, available $%s",
				ErrInsufficientBalance, model.FormatCents(cents), model.FormatCents(max(available, 0)))
		}

		now := s.now()
		a, exists := existing.Get()
		switch {
		case cents == 0 && exists:
			change.Kind = model.AllocationDeleted
			return tx.DeleteAllocation(ctx, a.ID)
		case cents == 0:
			change.Kind = model.AllocationUnchanged
			return nil
		case exists && a.Cents == cents:
			change.Kind = model.AllocationUnchanged
			return nil
		case exists:
			change.Kind = model.AllocationUpdated
			return tx.UpdateAllocation(ctx, a.ID, cents, now)
		default:
			change.Kind = model.AllocationCreated
			return tx.CreateAllocation(ctx, model.Allocation{
				ID:           model.NewAllocationID(),
				SponsorLogin: sponsor.Login,
				IssueURL:     issue.URL,
				Cents:        cents,
				Currency:     model.CurrencyUSD,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}
	})

	return change, err
}

// Balance returns the sponsor's allocation position toward recipient. A failed
// lifetime lookup is shown as zero; this view never gates a write.
func (s *LedgerService) Balance(ctx context.Context, sponsor model.Sponsor, recipient string) (model.Balance, error) {
	allocations, err := s.allocations.ListBySponsor(ctx, sponsor.Login, recipient)
	if err != nil {
		return model.Balance{}, fmt.Errorf("listing allocations: %w", err)
	}

	var allocated int64
	for _, a := range allocations {
		allocated += a.Cents
	}

	lifetime, err := s.gateway.LifetimeSponsorshipCents(ctx, sponsor.AccessToken, recipient)
	if err != nil {
		slog.Warn("lifetime sponsorship lookup failed, showing zero", "sponsor", sponsor.Login, "recipient", recipient, "error", err)
		lifetime = 0
	}

	return model.Balance{
		Recipient:        recipient,
		AllocatedCents:   allocated,
		LifetimeCents:    lifetime,
		UnallocatedCents: lifetime - allocated,
	}, nil
}
