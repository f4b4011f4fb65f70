package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
	"github.com/noah-isme/sma-bulletin-api/pkg/storage"
)

type stubStudents struct {
	profiles map[string]models.StudentProfile
	calls    int
}

func (s *stubStudents) StudentProfile(ctx context.Context, studentID, classID string) (*models.StudentProfile, error) {
	s.calls++
	p, ok := s.profiles[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func approvedBulletin() models.Bulletin {
	rank := 1
	return models.Bulletin{
		ID:                   "b1",
		StudentID:            "s1",
		ClassID:              "c1",
		Term:                 models.ScopeT1,
		AcademicYear:         "2025-2026",
		Status:               models.BulletinApproved,
		GeneralAverage:       scoreOf(15.14),
		ClassRank:            &rank,
		TotalStudentsInClass: 3,
		Version:              3,
		Subjects: models.SubjectSnapshot{
			subject("Math", 4, scoreOf(16), nil, nil),
			subject("Physics", 3, nil, nil, nil),
		},
	}
}

func newTestDocumentService(repo *memoryBulletinRepo, students *stubStudents) (*DocumentService, *memoryCacheRepo) {
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	signer := storage.NewRenderTokenSigner("render-secret", time.Minute)
	sigs := newMemorySignatures()
	_, _ = sigs.Insert(context.Background(), &models.Signature{ID: "sig1", BulletinID: "b1", SignerName: "Mme Ndiaye", SignerPosition: "Proviseur"})
	svc := NewDocumentService(repo, students, sigs, cache, signer, models.SchoolInfo{Name: "Lycée Central"}, time.Hour, nil)
	return svc, cacheRepo
}

func TestDocumentBuildAssemblesAndCaches(t *testing.T) {
	repo := newMemoryBulletinRepo(approvedBulletin())
	students := &stubStudents{profiles: map[string]models.StudentProfile{"s1": {ID: "s1", FullName: "Awa Diallo", Matricule: "M-001"}}}
	svc, _ := newTestDocumentService(repo, students)

	doc, err := svc.Build(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "Lycée Central", doc.School.Name)
	assert.Equal(t, "Awa Diallo", doc.Student.FullName)
	assert.Equal(t, 3, doc.Version)
	require.Len(t, doc.Subjects, 2)
	require.NotNil(t, doc.Subjects[0].Points)
	assert.Equal(t, 64.0, *doc.Subjects[0].Points)
	assert.Nil(t, doc.Subjects[1].Score)
	require.Len(t, doc.Signatures, 1)

	_, err = svc.Build(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, students.calls)
}

func TestDocumentBuildRebuildsStaleCache(t *testing.T) {
	b := approvedBulletin()
	repo := newMemoryBulletinRepo(b)
	students := &stubStudents{}
	svc, _ := newTestDocumentService(repo, students)

	require.NoError(t, svc.Freeze(context.Background(), &b))
	b.Version = 4
	b.Status = models.BulletinPublished
	repo.items["b1"] = b

	doc, err := svc.Build(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 4, doc.Version)
	assert.Equal(t, models.BulletinPublished, doc.Status)
	assert.Equal(t, "s1", doc.Student.ID)
}

func TestDocumentRequiresApproval(t *testing.T) {
	b := approvedBulletin()
	b.Status = models.BulletinSubmitted
	svc, _ := newTestDocumentService(newMemoryBulletinRepo(b), &stubStudents{})

	_, err := svc.Build(context.Background(), "b1")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	_, err = svc.IssueRenderToken(context.Background(), "b1")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	_, err = svc.Build(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestRenderTokenRoundTrip(t *testing.T) {
	svc, _ := newTestDocumentService(newMemoryBulletinRepo(approvedBulletin()), &stubStudents{})

	token, err := svc.IssueRenderToken(context.Background(), "b1")
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)

	doc, err := svc.ResolveRenderToken(context.Background(), token.Token)
	require.NoError(t, err)
	assert.Equal(t, "b1", doc.BulletinID)

	_, err = svc.ResolveRenderToken(context.Background(), token.Token+"x")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}
