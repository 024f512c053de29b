package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/genquota/internal/metrics"
	"github.com/mmeshcher/genquota/internal/model"
	"github.com/mmeshcher/genquota/internal/repository"
)

const (
	maxIssueCount     = 1000
	issueAttempts     = 3
	codeAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeGroupLength   = 4
	codeGroupsPerCode = 3
)

// IssueRequest описывает запрос на выпуск партии промокодов.
type IssueRequest struct {
	PackageType model.PackageType
	PackageID   int64
	Count       int
	ExpiresAt   *time.Time
	CreatedBy   string
}

// IssueCodes выпускает партию кодов для действующего пакета каталога. Все коды партии
// получают общий идентификатор партии.
func (e *RedemptionEngine) IssueCodes(ctx context.Context, req IssueRequest) ([]model.RedeemableCode, error) {
	if !req.PackageType.Valid() || req.Count < 1 || req.Count > maxIssueCount {
		return nil, ErrInvalidIssueRequest
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(e.now()) {
		return nil, fmt.Errorf("%w: expiry in the past", ErrInvalidIssueRequest)
	}

	if err := e.ensurePackageActive(ctx, req.PackageType, req.PackageID); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < issueAttempts; attempt++ {
		codes, err := newCodeBatch(req)
		if err != nil {
			return nil, err
		}

		saved, err := e.repo.InsertCodes(ctx, codes)
		if err == nil {
			metrics.AddIssuedCodes(string(req.PackageType), len(saved))
			e.logger.Info("codes issued",
				zap.String("batchID", codes[0].BatchID),
				zap.Int("count", len(saved)),
				zap.String("createdBy", req.CreatedBy),
			)
			return saved, nil
		}
		if !errors.Is(err, repository.ErrCodeExists) {
			return nil, fmt.Errorf("insert codes: %w", err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("insert codes: %w", lastErr)
}

func (e *RedemptionEngine) ensurePackageActive(ctx context.Context, packageType model.PackageType, id int64) error {
	var (
		active bool
		err    error
	)

	switch packageType {
	case model.PackagePoints:
		var pkg *model.PointsPackage
		pkg, err = e.repo.GetPointsPackage(ctx, id)
		if err == nil {
			active = pkg.IsActive
		}
	case model.PackageSubscription:
		var plan *model.SubscriptionPlan
		plan, err = e.repo.GetSubscriptionPlan(ctx, id)
		if err == nil {
			active = plan.IsActive
		}
	}

	if err != nil {
		if errors.Is(err, repository.ErrPackageNotFound) {
			return ErrPackageUnavailable
		}
		return fmt.Errorf("resolve package: %w", err)
	}
	if !active {
		return ErrPackageUnavailable
	}
	return nil
}

func newCodeBatch(req IssueRequest) ([]model.RedeemableCode, error) {
	batchID := uuid.NewString()
	codes := make([]model.RedeemableCode, 0, req.Count)
	seen := make(map[string]struct{}, req.Count)

	for len(codes) < req.Count {
		code, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		codes = append(codes, model.RedeemableCode{
			Code:        code,
			PackageType: req.PackageType,
			PackageID:   req.PackageID,
			ExpiresAt:   req.ExpiresAt,
			CreatedBy:   req.CreatedBy,
			BatchID:     batchID,
		})
	}

	return codes, nil
}

// generateCode создаёт код вида XXXX-XXXX-XXXX из алфавита без похожих символов (O/0, I/1).
func generateCode() (string, error) {
	const n = codeGroupLength * codeGroupsPerCode

	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}

	out := make([]byte, 0, n+codeGroupsPerCode-1)
	for i, b := range buf {
		if i > 0 && i%codeGroupLength == 0 {
			out = append(out, '-')
		}
		out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
	}

	return string(out), nil
}
