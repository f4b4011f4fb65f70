package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
)

type bulletinRepository interface {
	Create(ctx context.Context, bulletin *models.Bulletin) error
	FindByID(ctx context.Context, id string) (*models.Bulletin, error)
	FindByStudentTerm(ctx context.Context, studentID, classID string, term models.Scope, academicYear string) (*models.Bulletin, error)
	List(ctx context.Context, filter models.BulletinFilter) ([]models.Bulletin, int, error)
	// Update persists b when the stored version still equals expectedVersion and bumps it.
	Update(ctx context.Context, b *models.Bulletin, expectedVersion int) error
}

// documentWriter keeps the renderer-facing document data in step with the lifecycle.
type documentWriter interface {
	Freeze(ctx context.Context, bulletin *models.Bulletin) error
	Evict(ctx context.Context, bulletinID string) error
}

// BulletinPolicy holds the configurable workflow rules.
type BulletinPolicy struct {
	// AllowGaps lets a term be submitted while subjects lack a score or the average is pending.
	AllowGaps map[models.Scope]bool
	// RequireCompleteOnApprove re-checks term requirements before approval.
	RequireCompleteOnApprove bool
}

// DefaultBulletinPolicy allows gaps for T1 and T2 and requires complete grades at T3.
func DefaultBulletinPolicy() BulletinPolicy {
	return BulletinPolicy{AllowGaps: map[models.Scope]bool{
		models.ScopeT1: true,
		models.ScopeT2: true,
		models.ScopeT3: false,
	}}
}

func (p BulletinPolicy) allowsGaps(term models.Scope) bool {
	return p.AllowGaps[term]
}

type transitionRule struct {
	from  []models.BulletinStatus
	to    models.BulletinStatus
	roles []models.UserRole
	// settled lists states in which repeating the transition is a no-op.
	settled []models.BulletinStatus
}

var humanApprovers = []models.UserRole{models.RoleDirector, models.RoleAdmin}
var gradeEditors = []models.UserRole{models.RoleTeacher, models.RoleDirector, models.RoleAdmin}

var bulletinTransitions = map[models.BulletinTransition]transitionRule{
	models.TransitionSubmit: {
		from:    []models.BulletinStatus{models.BulletinDraft, models.BulletinRejected},
		to:      models.BulletinSubmitted,
		roles:   gradeEditors,
		settled: []models.BulletinStatus{models.BulletinSubmitted},
	},
	models.TransitionApprove: {
		from:    []models.BulletinStatus{models.BulletinSubmitted},
		to:      models.BulletinApproved,
		roles:   humanApprovers,
		settled: []models.BulletinStatus{models.BulletinApproved},
	},
	models.TransitionReject: {
		from:    []models.BulletinStatus{models.BulletinSubmitted},
		to:      models.BulletinRejected,
		roles:   humanApprovers,
		settled: []models.BulletinStatus{models.BulletinRejected},
	},
	models.TransitionReopen: {
		from:    []models.BulletinStatus{models.BulletinRejected},
		to:      models.BulletinDraft,
		roles:   gradeEditors,
		settled: []models.BulletinStatus{models.BulletinDraft},
	},
	models.TransitionPublish: {
		from:    []models.BulletinStatus{models.BulletinApproved},
		to:      models.BulletinPublished,
		roles:   humanApprovers,
		settled: []models.BulletinStatus{models.BulletinPublished, models.BulletinSent},
	},
	models.TransitionSend: {
		from:  []models.BulletinStatus{models.BulletinPublished, models.BulletinSent},
		to:    models.BulletinSent,
		roles: []models.UserRole{models.RoleSystem},
	},
}

// CanTransition reports whether transition may be applied to a bulletin in state from.
func CanTransition(from models.BulletinStatus, transition models.BulletinTransition) bool {
	rule, ok := bulletinTransitions[transition]
	if !ok {
		return false
	}
	return containsStatus(rule.from, from)
}

func containsStatus(list []models.BulletinStatus, status models.BulletinStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func roleAllowed(roles []models.UserRole, role models.UserRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// CreateBulletinRequest opens a draft bulletin.
type CreateBulletinRequest struct {
	StudentID    string       `json:"student_id" validate:"required"`
	ClassID      string       `json:"class_id" validate:"required"`
	Term         models.Scope `json:"term" validate:"required,oneof=T1 T2 T3"`
	AcademicYear string       `json:"academic_year" validate:"required"`
}

// PublishOutcome reports what bulk publish did to one bulletin.
type PublishOutcome struct {
	BulletinID string                `json:"bulletin_id"`
	Status     models.BulletinStatus `json:"status"`
	Error      string                `json:"error,omitempty"`
}

// BulletinService drives the bulletin lifecycle.
type BulletinService struct {
	bulletins bulletinRepository
	grades    GradeStore
	documents documentWriter
	policy    BulletinPolicy
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewBulletinService constructs the lifecycle service. documents and metrics may be nil.
func NewBulletinService(bulletins bulletinRepository, grades GradeStore, documents documentWriter, policy BulletinPolicy, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *BulletinService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.AllowGaps == nil {
		policy.AllowGaps = DefaultBulletinPolicy().AllowGaps
	}
	return &BulletinService{
		bulletins: bulletins,
		grades:    grades,
		documents: documents,
		policy:    policy,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a draft bulletin with a preview of the current average and rank.
func (s *BulletinService) Create(ctx context.Context, req CreateBulletinRequest, actor models.Actor) (*models.Bulletin, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulletin payload")
	}
	if !roleAllowed(gradeEditors, actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot create bulletins")
	}
	existing, err := s.bulletins.FindByStudentTerm(ctx, req.StudentID, req.ClassID, req.Term, req.AcademicYear)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing bulletin")
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "bulletin already exists for this student and term")
	}

	now := s.now()
	bulletin := &models.Bulletin{
		ID:           uuid.NewString(),
		StudentID:    req.StudentID,
		ClassID:      req.ClassID,
		Term:         req.Term,
		AcademicYear: req.AcademicYear,
		Status:       models.BulletinDraft,
		Version:      1,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.computeInto(ctx, bulletin); err != nil {
		return nil, err
	}
	if err := s.bulletins.Create(ctx, bulletin); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create bulletin")
	}
	return bulletin, nil
}

// Get returns a bulletin by id.
func (s *BulletinService) Get(ctx context.Context, id string) (*models.Bulletin, error) {
	bulletin, err := s.bulletins.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "bulletin not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bulletin")
	}
	return bulletin, nil
}

// List returns bulletins of a class with pagination metadata.
func (s *BulletinService) List(ctx context.Context, filter models.BulletinFilter) ([]models.Bulletin, *models.Pagination, error) {
	if strings.TrimSpace(filter.ClassID) == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "class id is required")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 50
	}
	items, total, err := s.bulletins.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bulletins")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Refresh recomputes the preview average and rank of a draft bulletin.
func (s *BulletinService) Refresh(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error) {
	if !roleAllowed(gradeEditors, actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot refresh bulletins")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.BulletinDraft {
		return nil, appErrors.NewInvalidTransition(string(current.Status), "refresh")
	}
	next := *current
	if _, err := s.computeInto(ctx, &next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	if err := s.persist(ctx, &next, current.Version); err != nil {
		return nil, err
	}
	return &next, nil
}

// Submit freezes the subject list into the bulletin with its average and rank, and at T3 its
// annual average and council decision.
func (s *BulletinService) Submit(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error) {
	return s.apply(ctx, id, actor, models.TransitionSubmit, func(b *models.Bulletin, now time.Time) error {
		validation, err := s.computeInto(ctx, b)
		if err != nil {
			return err
		}
		if !s.policy.allowsGaps(b.Term) && (!validation.Valid || b.GeneralAverage == nil) {
			return appErrors.NewValidationIncomplete(validation.MissingSubjects)
		}
		if b.Status == models.BulletinRejected {
			b.LastApprovalComment = nil
		}
		b.SubmittedBy = &actor.ID
		b.SubmittedAt = &now
		return nil
	})
}

// Approve accepts a submitted bulletin. The subject snapshot is frozen and the document data is
// handed to the document store.
func (s *BulletinService) Approve(ctx context.Context, id string, actor models.Actor, comment string) (*models.Bulletin, error) {
	approved, err := s.apply(ctx, id, actor, models.TransitionApprove, func(b *models.Bulletin, now time.Time) error {
		if s.policy.RequireCompleteOnApprove {
			if validation := ValidateTermRequirements(b.Subjects, b.Term); !validation.Valid {
				return appErrors.NewValidationIncomplete(validation.MissingSubjects)
			}
		}
		b.ApprovedBy = &actor.ID
		b.ApprovedAt = &now
		b.SnapshotFrozenAt = &now
		if c := strings.TrimSpace(comment); c != "" {
			b.LastApprovalComment = &c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.documents != nil && approved.Status == models.BulletinApproved {
		if err := s.documents.Freeze(ctx, approved); err != nil {
			s.logger.Sugar().Warnw("failed to store bulletin document", "bulletin_id", approved.ID, "error", err)
		}
	}
	return approved, nil
}

// Reject sends a submitted bulletin back with a mandatory comment.
func (s *BulletinService) Reject(ctx context.Context, id string, actor models.Actor, comment string) (*models.Bulletin, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a comment is required to reject a bulletin")
	}
	return s.apply(ctx, id, actor, models.TransitionReject, func(b *models.Bulletin, now time.Time) error {
		b.LastApprovalComment = &comment
		return nil
	})
}

// Reopen moves a rejected bulletin back to draft for correction.
func (s *BulletinService) Reopen(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error) {
	return s.apply(ctx, id, actor, models.TransitionReopen, func(b *models.Bulletin, now time.Time) error {
		b.SubmittedBy = nil
		b.SubmittedAt = nil
		return nil
	})
}

// Publish marks an approved bulletin ready for distribution. Publishing again is a no-op.
func (s *BulletinService) Publish(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error) {
	published, err := s.apply(ctx, id, actor, models.TransitionPublish, func(b *models.Bulletin, now time.Time) error {
		if b.PublishedAt == nil {
			b.PublishedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.documents != nil {
		if err := s.documents.Evict(ctx, published.ID); err != nil {
			s.logger.Sugar().Warnw("failed to evict bulletin document", "bulletin_id", published.ID, "error", err)
		}
	}
	return published, nil
}

// PublishClass publishes every bulletin of a class and term, reporting each one separately.
func (s *BulletinService) PublishClass(ctx context.Context, classID string, term models.Scope, academicYear string, actor models.Actor) ([]PublishOutcome, error) {
	if !roleAllowed(humanApprovers, actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot publish bulletins")
	}
	if err := validateClassScope(classID, term, academicYear); err != nil {
		return nil, err
	}
	bulletins, err := s.listAll(ctx, models.BulletinFilter{ClassID: classID, Term: term, AcademicYear: academicYear})
	if err != nil {
		return nil, err
	}
	outcomes := make([]PublishOutcome, 0, len(bulletins))
	for _, b := range bulletins {
		outcome := PublishOutcome{BulletinID: b.ID, Status: b.Status}
		published, err := s.Publish(ctx, b.ID, actor)
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.Status = published.Status
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// MarkSent records a successful distribution. It is called by the dispatcher and restamps
// SentAt on every re-send.
func (s *BulletinService) MarkSent(ctx context.Context, id string) (*models.Bulletin, error) {
	return s.apply(ctx, id, models.SystemActor, models.TransitionSend, func(b *models.Bulletin, now time.Time) error {
		b.SentAt = &now
		return nil
	})
}

// ListClass returns every bulletin of a class, optionally narrowed to one term and year.
func (s *BulletinService) ListClass(ctx context.Context, classID string, term models.Scope, academicYear string) ([]models.Bulletin, error) {
	if classID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class id is required")
	}
	return s.listAll(ctx, models.BulletinFilter{ClassID: classID, Term: term, AcademicYear: academicYear})
}

func (s *BulletinService) listAll(ctx context.Context, filter models.BulletinFilter) ([]models.Bulletin, error) {
	const pageSize = 200
	filter.PageSize = pageSize
	var all []models.Bulletin
	for page := 1; ; page++ {
		filter.Page = page
		items, total, err := s.bulletins.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bulletins")
		}
		all = append(all, items...)
		if len(items) < pageSize || len(all) >= total {
			return all, nil
		}
	}
}

// apply runs one transition as a read-modify-write guarded by the version column. Nothing is
// persisted when the guard, mutate or the version check fails.
func (s *BulletinService) apply(ctx context.Context, id string, actor models.Actor, transition models.BulletinTransition, mutate func(b *models.Bulletin, now time.Time) error) (*models.Bulletin, error) {
	rule, ok := bulletinTransitions[transition]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown transition")
	}
	if !roleAllowed(rule.roles, actor.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot "+string(transition)+" bulletins")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if containsStatus(rule.settled, current.Status) {
		return current, nil
	}
	if !containsStatus(rule.from, current.Status) {
		return nil, appErrors.NewInvalidTransition(string(current.Status), string(transition))
	}

	now := s.now()
	next := *current
	if err := mutate(&next, now); err != nil {
		return nil, err
	}
	next.Status = rule.to
	next.UpdatedAt = now
	if err := s.persist(ctx, &next, current.Version); err != nil {
		return nil, err
	}

	s.metrics.RecordTransition(transition)
	s.logger.Info("bulletin transition",
		zap.String("bulletin_id", next.ID),
		zap.String("transition", string(transition)),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next.Status)),
		zap.String("actor_id", actor.ID),
	)
	return &next, nil
}

func (s *BulletinService) persist(ctx context.Context, next *models.Bulletin, expectedVersion int) error {
	if err := s.bulletins.Update(ctx, next, expectedVersion); err != nil {
		if errors.Is(err, appErrors.ErrConflict) {
			return appErrors.Clone(appErrors.ErrConflict, "bulletin was modified concurrently, reload and retry")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "bulletin not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update bulletin")
	}
	next.Version = expectedVersion + 1
	return nil
}

// computeInto loads the class once and fills the bulletin's snapshot, average, rank and, at T3,
// its annual average and council decision.
func (s *BulletinService) computeInto(ctx context.Context, b *models.Bulletin) (models.TermValidation, error) {
	class, err := s.grades.FetchClassGrades(ctx, b.ClassID, b.AcademicYear)
	if err != nil {
		return models.TermValidation{}, gradeLoadError(err)
	}
	var subjects []models.SubjectGrade
	enrolled := false
	for _, student := range class {
		if student.StudentID == b.StudentID {
			subjects = student.Subjects
			enrolled = true
			break
		}
	}
	if !enrolled {
		return models.TermValidation{}, appErrors.Clone(appErrors.ErrNotFound, "student not enrolled in class")
	}

	report := BuildClassStatistics(b.ClassID, b.Term, b.AcademicYear, class)
	snapshot := make(models.SubjectSnapshot, len(subjects))
	for i, subject := range subjects {
		snapshot[i] = subject.Clone()
	}
	b.Subjects = snapshot
	b.GeneralAverage = report.PerStudent[b.StudentID]
	b.TotalStudentsInClass = len(class)
	b.ClassRank = nil
	if rank, ok := report.Ranks[b.StudentID]; ok {
		b.ClassRank = &rank
	}

	b.AnnualAverage = nil
	b.CouncilDecision = nil
	if b.Term == models.ScopeT3 {
		if annual := ComputeWeightedAverage(subjects, models.ScopeAnnual); annual != nil {
			decision := DetermineCouncilDecision(*annual)
			b.AnnualAverage = annual
			b.CouncilDecision = &decision
		}
	}
	return ValidateTermRequirements(subjects, b.Term), nil
}
