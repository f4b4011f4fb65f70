package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
	"github.com/noah-isme/sma-bulletin-api/pkg/jobs"
)

type stubClassBulletins struct {
	items []models.Bulletin
}

func (s *stubClassBulletins) ListClass(ctx context.Context, classID string, term models.Scope, academicYear string) ([]models.Bulletin, error) {
	return s.items, nil
}

type memorySignatures struct {
	mu    sync.Mutex
	rows  map[string]models.Signature
	fail  map[string]error
	reads int
}

func newMemorySignatures() *memorySignatures {
	return &memorySignatures{rows: make(map[string]models.Signature), fail: make(map[string]error)}
}

func (m *memorySignatures) Insert(ctx context.Context, sig *models.Signature) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[sig.BulletinID]; err != nil {
		return false, err
	}
	key := sig.BulletinID + "|" + sig.SignerName
	if _, ok := m.rows[key]; ok {
		return false, nil
	}
	m.rows[key] = *sig
	return true, nil
}

func (m *memorySignatures) ListByBulletin(ctx context.Context, bulletinID string) ([]models.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	var out []models.Signature
	for _, sig := range m.rows {
		if sig.BulletinID == bulletinID {
			out = append(out, sig)
		}
	}
	return out, nil
}

type recordingEvictor struct {
	mu      sync.Mutex
	evicted []string
}

func (r *recordingEvictor) Evict(ctx context.Context, bulletinID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, bulletinID)
	return nil
}

func signingClass() *stubClassBulletins {
	return &stubClassBulletins{items: []models.Bulletin{
		{ID: "b1", ClassID: "c1", Status: models.BulletinApproved},
		{ID: "b2", ClassID: "c1", Status: models.BulletinApproved},
		{ID: "b3", ClassID: "c1", Status: models.BulletinSubmitted},
		{ID: "b4", ClassID: "c1", Status: models.BulletinApproved},
	}}
}

func signRequest() BulkSignRequest {
	return BulkSignRequest{ClassID: "c1", SignerName: " Mme Ndiaye ", SignerPosition: "Proviseur", HasStamp: true}
}

func TestBulkSignIsSkipSafe(t *testing.T) {
	sigs := newMemorySignatures()
	evictor := &recordingEvictor{}
	svc := NewBulkSigningService(signingClass(), sigs, evictor, jobs.NewPool(2), NewMetricsService(), nil, nil)

	first, err := svc.BulkSign(context.Background(), signRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, first.SignedCount)
	assert.Empty(t, first.AlreadySigned)
	assert.Equal(t, []models.SigningSkip{{BulletinID: "b3", Status: models.BulletinSubmitted}}, first.Skipped)
	assert.ElementsMatch(t, []string{"b1", "b2", "b4"}, evictor.evicted)

	second, err := svc.BulkSign(context.Background(), signRequest())
	require.NoError(t, err)
	assert.Zero(t, second.SignedCount)
	assert.Equal(t, []string{"b1", "b2", "b4"}, second.AlreadySigned)
	assert.Len(t, sigs.rows, 3)
	assert.Equal(t, "Mme Ndiaye", sigs.rows["b1|Mme Ndiaye"].SignerName)
}

func TestBulkSignReportsPerItemFailures(t *testing.T) {
	sigs := newMemorySignatures()
	sigs.fail["b2"] = errors.New("constraint violation")
	svc := NewBulkSigningService(signingClass(), sigs, nil, jobs.NewPool(4), nil, nil, nil)

	result, err := svc.BulkSign(context.Background(), signRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, result.SignedCount)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "b2", result.Failures[0].BulletinID)
	assert.Equal(t, "constraint violation", result.Failures[0].Error)
}

func TestBulkSignCanceledItemsFail(t *testing.T) {
	svc := NewBulkSigningService(signingClass(), newMemorySignatures(), nil, jobs.NewPool(1), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.BulkSign(ctx, signRequest())
	require.NoError(t, err)
	assert.Zero(t, result.SignedCount)
	assert.Len(t, result.Failures, 3)
	for _, f := range result.Failures {
		assert.Equal(t, errCanceled, f.Error)
	}
}

func TestBulkSignValidatesRequest(t *testing.T) {
	svc := NewBulkSigningService(signingClass(), newMemorySignatures(), nil, nil, nil, nil, nil)
	_, err := svc.BulkSign(context.Background(), BulkSignRequest{ClassID: "c1", SignerName: "  ", SignerPosition: "Proviseur"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
