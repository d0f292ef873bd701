package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/northwear/api/internal/domain"
	"github.com/northwear/api/internal/repositories"

	"github.com/oklog/ulid/v2"
)

// DiscountServiceDeps bundles dependencies required to construct a DiscountService implementation.
type DiscountServiceDeps struct {
	DiscountCodes repositories.DiscountCodeRepository
	Audit         AuditLogService
	Clock         func() time.Time
}

type discountService struct {
	repo  repositories.DiscountCodeRepository
	audit AuditLogService
	clock func() time.Time
	newID func() string
}

// NewDiscountService wires a DiscountService backed by the provided repositories.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.DiscountCodes == nil {
		return nil, ErrDiscountRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &discountService{
		repo:  deps.DiscountCodes,
		audit: deps.Audit,
		clock: func() time.Time { return clock().UTC() },
		newID: func() string { return ulid.Make().String() },
	}, nil
}

// Validate runs the ordered eligibility checks for a code against a subtotal.
// The first failing check wins; an ineligible code comes back with Valid=false
// and a reason rather than an error, so callers can show the message as-is.
func (s *discountService) Validate(ctx context.Context, cmd ValidateDiscountCommand) (DiscountValidation, error) {
	if s == nil || s.repo == nil {
		return DiscountValidation{}, ErrDiscountRepositoryMissing
	}

	normalized := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if normalized == "" {
		return DiscountValidation{}, ErrDiscountInvalidCode
	}

	code, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		var discountErr *repositories.DiscountError
		if errors.As(err, &discountErr) && discountErr.Code == repositories.DiscountErrorNotFound {
			return invalidDiscount(normalized, domain.DiscountReasonCodeNotFound, "discount code not found"), nil
		}
		return DiscountValidation{}, err
	}

	now := s.clock()
	switch {
	case !code.Active:
		return invalidDiscount(code.Code, domain.DiscountReasonCodeInactive, "discount code is not active"), nil
	case code.ValidFrom != nil && now.Before(*code.ValidFrom):
		return invalidDiscount(code.Code, domain.DiscountReasonNotYetValid, "discount code is not valid yet"), nil
	case code.ValidTo != nil && now.After(*code.ValidTo):
		return invalidDiscount(code.Code, domain.DiscountReasonExpired, "discount code has expired"), nil
	case code.MinOrderValue != nil && cmd.Subtotal < *code.MinOrderValue:
		return invalidDiscount(code.Code, domain.DiscountReasonBelowMinimum,
			fmt.Sprintf("order subtotal is below the %d minimum for this code", *code.MinOrderValue)), nil
	case code.Exhausted():
		return invalidDiscount(code.Code, domain.DiscountReasonExhausted, "discount code has no uses left"), nil
	}

	return DiscountValidation{
		Code:   code.Code,
		Valid:  true,
		Type:   code.Type,
		Value:  code.Value,
		Amount: code.ComputeDiscount(cmd.Subtotal),
	}, nil
}

// ListCodes returns a page of code definitions for admin screens.
func (s *discountService) ListCodes(ctx context.Context, filter DiscountListFilter) (domain.CursorPage[DiscountCode], error) {
	if s == nil || s.repo == nil {
		return domain.CursorPage[DiscountCode]{}, ErrDiscountRepositoryMissing
	}
	return s.repo.List(ctx, filter)
}

// CreateCode validates and stores a new code definition.
func (s *discountService) CreateCode(ctx context.Context, cmd UpsertDiscountCodeCommand) (DiscountCode, error) {
	if s == nil || s.repo == nil {
		return DiscountCode{}, ErrDiscountRepositoryMissing
	}
	code, err := normalizeDiscountCode(cmd.Code)
	if err != nil {
		return DiscountCode{}, err
	}

	now := s.clock()
	code.ID = s.newID()
	code.UsedCount = 0
	code.CreatedAt = now
	code.UpdatedAt = now

	if err := s.repo.Insert(ctx, code); err != nil {
		var discountErr *repositories.DiscountError
		if errors.As(err, &discountErr) && discountErr.Code == repositories.DiscountErrorDuplicateCode {
			return DiscountCode{}, fmt.Errorf("%w: %s", ErrDiscountDuplicateCode, code.Code)
		}
		return DiscountCode{}, err
	}

	s.recordAudit(ctx, cmd.ActorID, "discount.create", code)
	return code, nil
}

// UpdateCode validates and overwrites an existing code definition. The stored
// usage counter is preserved by the repository.
func (s *discountService) UpdateCode(ctx context.Context, cmd UpsertDiscountCodeCommand) (DiscountCode, error) {
	if s == nil || s.repo == nil {
		return DiscountCode{}, ErrDiscountRepositoryMissing
	}
	if strings.TrimSpace(cmd.Code.ID) == "" {
		return DiscountCode{}, fmt.Errorf("%w: id is required", ErrDiscountInvalidDefinition)
	}
	code, err := normalizeDiscountCode(cmd.Code)
	if err != nil {
		return DiscountCode{}, err
	}
	code.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, code); err != nil {
		if isDiscountNotFound(err) {
			return DiscountCode{}, fmt.Errorf("%w: %s", ErrDiscountNotFound, code.ID)
		}
		return DiscountCode{}, err
	}

	updated, err := s.repo.FindByID(ctx, code.ID)
	if err != nil {
		return DiscountCode{}, err
	}
	s.recordAudit(ctx, cmd.ActorID, "discount.update", updated)
	return updated, nil
}

// DeleteCode removes a code definition.
func (s *discountService) DeleteCode(ctx context.Context, codeID string) error {
	if s == nil || s.repo == nil {
		return ErrDiscountRepositoryMissing
	}
	id := strings.TrimSpace(codeID)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrDiscountInvalidDefinition)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if isDiscountNotFound(err) {
			return fmt.Errorf("%w: %s", ErrDiscountNotFound, id)
		}
		return err
	}
	return nil
}

func (s *discountService) recordAudit(ctx context.Context, actorID string, action string, code DiscountCode) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:     actorID,
		ActorType: "staff",
		Action:    action,
		TargetRef: "/discountCodes/" + code.ID,
		Metadata:  map[string]any{"code": code.Code},
	})
}

func invalidDiscount(code string, reason domain.DiscountReason, message string) DiscountValidation {
	return DiscountValidation{
		Code:    code,
		Valid:   false,
		Reason:  reason,
		Message: message,
	}
}

func normalizeDiscountCode(code DiscountCode) (DiscountCode, error) {
	code.Code = strings.ToUpper(strings.TrimSpace(code.Code))
	if code.Code == "" {
		return DiscountCode{}, ErrDiscountInvalidCode
	}
	switch code.Type {
	case domain.DiscountTypePercentage:
		if code.Value <= 0 || code.Value > 100 {
			return DiscountCode{}, fmt.Errorf("%w: percentage value must be in (0,100]", ErrDiscountInvalidDefinition)
		}
	case domain.DiscountTypeFixed:
		if code.Value <= 0 {
			return DiscountCode{}, fmt.Errorf("%w: fixed value must be positive", ErrDiscountInvalidDefinition)
		}
	default:
		return DiscountCode{}, fmt.Errorf("%w: unknown type %q", ErrDiscountInvalidDefinition, code.Type)
	}
	if code.MinOrderValue != nil && *code.MinOrderValue <= 0 {
		return DiscountCode{}, fmt.Errorf("%w: minimum order value must be positive", ErrDiscountInvalidDefinition)
	}
	if code.MaxUses != nil && *code.MaxUses <= 0 {
		return DiscountCode{}, fmt.Errorf("%w: max uses must be positive", ErrDiscountInvalidDefinition)
	}
	if code.ValidFrom != nil && code.ValidTo != nil && code.ValidTo.Before(*code.ValidFrom) {
		return DiscountCode{}, fmt.Errorf("%w: validity window ends before it starts", ErrDiscountInvalidDefinition)
	}
	return code, nil
}

func isDiscountNotFound(err error) bool {
	var discountErr *repositories.DiscountError
	if errors.As(err, &discountErr) {
		return discountErr.Code == repositories.DiscountErrorNotFound
	}
	if repoErr, ok := err.(repositories.RepositoryError); ok {
		return repoErr.IsNotFound()
	}
	return false
}
