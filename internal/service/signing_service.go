package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
	"github.com/noah-isme/sma-bulletin-api/pkg/jobs"
)

const (
	signOutcomeSigned  = "signed"
	signOutcomeAlready = "already_signed"
	signOutcomeSkipped = "skipped"
	signOutcomeFailed  = "failed"
)

type classBulletinLister interface {
	ListClass(ctx context.Context, classID string, term models.Scope, academicYear string) ([]models.Bulletin, error)
}

type signatureStore interface {
	// Insert stores sig unless the same signer already signed the bulletin and reports whether
	// a row was written.
	Insert(ctx context.Context, sig *models.Signature) (bool, error)
	ListByBulletin(ctx context.Context, bulletinID string) ([]models.Signature, error)
}

type documentEvictor interface {
	Evict(ctx context.Context, bulletinID string) error
}

// BulkSignRequest describes one signing pass over a class.
type BulkSignRequest struct {
	ClassID        string       `json:"class_id" validate:"required"`
	Term           models.Scope `json:"term" validate:"omitempty,oneof=T1 T2 T3"`
	AcademicYear   string       `json:"academic_year" validate:"omitempty,max=16"`
	SignerName     string       `json:"signer_name" validate:"required,max=120"`
	SignerPosition string       `json:"signer_position" validate:"required,max=120"`
	HasStamp       bool         `json:"has_stamp"`
}

type signOutcome struct {
	bulletinID string
	outcome    string
	err        string
}

// BulkSigningService applies a signature to every approved bulletin of a class.
type BulkSigningService struct {
	bulletins  classBulletinLister
	signatures signatureStore
	documents  documentEvictor
	pool       *jobs.Pool
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewBulkSigningService constructs the signing coordinator.
func NewBulkSigningService(bulletins classBulletinLister, signatures signatureStore, documents documentEvictor, pool *jobs.Pool, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *BulkSigningService {
	if pool == nil {
		pool = jobs.NewPool(4)
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkSigningService{
		bulletins:  bulletins,
		signatures: signatures,
		documents:  documents,
		pool:       pool,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// BulkSign signs the approved bulletins of a class. Re-running with the same signer leaves
// already signed bulletins untouched and reports them in AlreadySigned.
func (s *BulkSigningService) BulkSign(ctx context.Context, req BulkSignRequest) (*models.BulkSignResult, error) {
	req.SignerName = strings.TrimSpace(req.SignerName)
	req.SignerPosition = strings.TrimSpace(req.SignerPosition)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signing payload")
	}
	bulletins, err := s.bulletins.ListClass(ctx, req.ClassID, req.Term, req.AcademicYear)
	if err != nil {
		return nil, err
	}

	result := &models.BulkSignResult{
		AlreadySigned: []string{},
		Skipped:       []models.SigningSkip{},
		Failures:      []models.SigningFailure{},
	}
	approved := make([]models.Bulletin, 0, len(bulletins))
	for _, b := range bulletins {
		if b.Status != models.BulletinApproved {
			result.Skipped = append(result.Skipped, models.SigningSkip{BulletinID: b.ID, Status: b.Status})
			s.metrics.RecordSignature(signOutcomeSkipped)
			continue
		}
		approved = append(approved, b)
	}

	outcomes := jobs.Collect(ctx, s.pool, approved, func(b models.Bulletin) signOutcome {
		return s.signOne(ctx, b, req)
	}, func(b models.Bulletin, err error) signOutcome {
		return signOutcome{bulletinID: b.ID, outcome: signOutcomeFailed, err: errCanceled}
	})

	for _, o := range outcomes {
		s.metrics.RecordSignature(o.outcome)
		switch o.outcome {
		case signOutcomeSigned:
			result.SignedCount++
		case signOutcomeAlready:
			result.AlreadySigned = append(result.AlreadySigned, o.bulletinID)
		default:
			result.Failures = append(result.Failures, models.SigningFailure{BulletinID: o.bulletinID, Error: o.err})
		}
	}
	sort.Strings(result.AlreadySigned)
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].BulletinID < result.Failures[j].BulletinID })

	s.logger.Sugar().Infow("bulk signing finished",
		"class_id", req.ClassID,
		"signer", req.SignerName,
		"signed", result.SignedCount,
		"already_signed", len(result.AlreadySigned),
		"skipped", len(result.Skipped),
		"failed", len(result.Failures),
	)
	return result, nil
}

func (s *BulkSigningService) signOne(ctx context.Context, b models.Bulletin, req BulkSignRequest) signOutcome {
	sig := &models.Signature{
		ID:             uuid.NewString(),
		BulletinID:     b.ID,
		SignerName:     req.SignerName,
		SignerPosition: req.SignerPosition,
		HasStamp:       req.HasStamp,
		SignedAt:       s.now(),
	}
	inserted, err := s.signatures.Insert(ctx, sig)
	if err != nil {
		s.logger.Sugar().Warnw("failed to sign bulletin", "bulletin_id", b.ID, "error", err)
		return signOutcome{bulletinID: b.ID, outcome: signOutcomeFailed, err: err.Error()}
	}
	if !inserted {
		return signOutcome{bulletinID: b.ID, outcome: signOutcomeAlready}
	}
	if s.documents != nil {
		if err := s.documents.Evict(ctx, b.ID); err != nil {
			s.logger.Sugar().Warnw("failed to evict signed bulletin document", "bulletin_id", b.ID, "error", err)
		}
	}
	return signOutcome{bulletinID: b.ID, outcome: signOutcomeSigned}
}

// Signatures lists the signatures applied to a bulletin.
func (s *BulkSigningService) Signatures(ctx context.Context, bulletinID string) ([]models.Signature, error) {
	sigs, err := s.signatures.ListByBulletin(ctx, bulletinID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list signatures")
	}
	return sigs, nil
}
