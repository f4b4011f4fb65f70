package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
	"github.com/noah-isme/sma-bulletin-api/pkg/storage"
)

type bulletinFinder interface {
	FindByID(ctx context.Context, id string) (*models.Bulletin, error)
}

type studentDirectory interface {
	StudentProfile(ctx context.Context, studentID, classID string) (*models.StudentProfile, error)
}

type signatureLister interface {
	ListByBulletin(ctx context.Context, bulletinID string) ([]models.Signature, error)
}

// RenderToken is a short-lived credential an external renderer uses to fetch document data.
type RenderToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DocumentService assembles the data behind a printable bulletin. Markup is left to the
// renderer.
type DocumentService struct {
	bulletins  bulletinFinder
	students   studentDirectory
	signatures signatureLister
	cache      *CacheService
	tokens     *storage.RenderTokenSigner
	school     models.SchoolInfo
	ttl        time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewDocumentService constructs the service.
func NewDocumentService(bulletins bulletinFinder, students studentDirectory, signatures signatureLister, cache *CacheService, tokens *storage.RenderTokenSigner, school models.SchoolInfo, ttl time.Duration, logger *zap.Logger) *DocumentService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		bulletins:  bulletins,
		students:   students,
		signatures: signatures,
		cache:      cache,
		tokens:     tokens,
		school:     school,
		ttl:        ttl,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func documentKey(bulletinID string) string {
	return "bulletin_document:" + bulletinID
}

func documentReady(status models.BulletinStatus) bool {
	return status == models.BulletinApproved || status == models.BulletinPublished || status == models.BulletinSent
}

// Build returns the document data of an approved, published or sent bulletin.
func (s *DocumentService) Build(ctx context.Context, bulletinID string) (*models.BulletinDocumentData, error) {
	bulletin, err := s.load(ctx, bulletinID)
	if err != nil {
		return nil, err
	}
	if !documentReady(bulletin.Status) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "bulletin is not approved yet")
	}

	var cached models.BulletinDocumentData
	if hit, _ := s.cache.Get(ctx, documentKey(bulletinID), &cached); hit && cached.Version >= bulletin.Version {
		return &cached, nil
	}
	doc, err := s.assemble(ctx, bulletin)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Set(ctx, documentKey(bulletinID), doc, s.ttl)
	return doc, nil
}

// Freeze stores the document of a freshly approved bulletin.
func (s *DocumentService) Freeze(ctx context.Context, bulletin *models.Bulletin) error {
	doc, err := s.assemble(ctx, bulletin)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, documentKey(bulletin.ID), doc, s.ttl)
}

// Evict drops the cached document so the next Build reassembles it.
func (s *DocumentService) Evict(ctx context.Context, bulletinID string) error {
	return s.cache.Delete(ctx, documentKey(bulletinID))
}

// IssueRenderToken signs a token bound to the bulletin's current version.
func (s *DocumentService) IssueRenderToken(ctx context.Context, bulletinID string) (*RenderToken, error) {
	if s.tokens == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "render tokens are not configured")
	}
	bulletin, err := s.load(ctx, bulletinID)
	if err != nil {
		return nil, err
	}
	if !documentReady(bulletin.Status) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "bulletin is not approved yet")
	}
	token, expiresAt, err := s.tokens.Issue(bulletin.ID, bulletin.Version)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue render token")
	}
	return &RenderToken{Token: token, ExpiresAt: expiresAt}, nil
}

// ResolveRenderToken verifies a render token and returns the document it grants access to.
func (s *DocumentService) ResolveRenderToken(ctx context.Context, token string) (*models.BulletinDocumentData, error) {
	if s.tokens == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "render tokens are not configured")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired render token")
	}
	doc, err := s.Build(ctx, claims.BulletinID)
	if err != nil {
		return nil, err
	}
	if doc.Version < claims.Version {
		return nil, appErrors.Clone(appErrors.ErrConflict, "document is older than the token")
	}
	return doc, nil
}

func (s *DocumentService) load(ctx context.Context, bulletinID string) (*models.Bulletin, error) {
	bulletin, err := s.bulletins.FindByID(ctx, bulletinID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bulletin not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bulletin")
	}
	return bulletin, nil
}

func (s *DocumentService) assemble(ctx context.Context, bulletin *models.Bulletin) (*models.BulletinDocumentData, error) {
	student := models.StudentProfile{ID: bulletin.StudentID}
	if s.students != nil {
		profile, err := s.students.StudentProfile(ctx, bulletin.StudentID, bulletin.ClassID)
		switch {
		case err == nil && profile != nil:
			student = *profile
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
	}
	var signatures []models.Signature
	if s.signatures != nil {
		sigs, err := s.signatures.ListByBulletin(ctx, bulletin.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load signatures")
		}
		signatures = sigs
	}

	subjects := make([]models.DocumentSubject, 0, len(bulletin.Subjects))
	for _, subject := range bulletin.Subjects {
		line := models.DocumentSubject{
			SubjectName: subject.SubjectName,
			Coefficient: subject.Coefficient,
			Remark:      subject.Remark,
		}
		if score := SubjectScore(subject, bulletin.Term); score != nil {
			rounded := RoundScore(*score)
			points := RoundScore(*score * float64(subject.Coefficient))
			line.Score = &rounded
			line.Points = &points
		}
		subjects = append(subjects, line)
	}

	return &models.BulletinDocumentData{
		BulletinID:      bulletin.ID,
		Version:         bulletin.Version,
		Status:          bulletin.Status,
		School:          s.school,
		Student:         student,
		Period:          models.DocumentPeriod{Term: bulletin.Term, AcademicYear: bulletin.AcademicYear},
		Subjects:        subjects,
		GeneralAverage:  bulletin.GeneralAverage,
		ClassRank:       bulletin.ClassRank,
		TotalStudents:   bulletin.TotalStudentsInClass,
		CouncilDecision: bulletin.CouncilDecision,
		Signatures:      signatures,
		GeneratedAt:     s.now(),
	}, nil
}
