package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
)

func TestDirectoryRepositoryRecipients(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewDirectoryRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_recipients")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "display_name", "role", "email", "phone", "whatsapp", "preferred_language", "is_primary"}).
			AddRow("r1", "s1", "Parent", "parent", "p@example.com", "+221700000001", nil, "en", true).
			AddRow("r2", "s1", "Student", "student", nil, "+221700000002", nil, "", false))

	recipients, err := repo.Recipients(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	assert.True(t, recipients[0].Primary)
	assert.Equal(t, models.RecipientParent, recipients[0].Role)
	assert.Equal(t, "p@example.com", recipients[0].Contact(models.ChannelEmail))
	assert.Empty(t, recipients[1].Contact(models.ChannelEmail))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryRepositoryStudentProfile(t *testing.T) {
	db, mock, cleanup := newSQLMock(t)
	defer cleanup()
	repo := NewDirectoryRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM students s")).
		WithArgs("s1", "c1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "matricule", "class_name", "date_of_birth"}).
			AddRow("s1", "Awa Diallo", "M-001", "Terminale S1", nil))

	profile, err := repo.StudentProfile(context.Background(), "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Terminale S1", profile.ClassName)
	assert.Nil(t, profile.DateOfBirth)
	assert.NoError(t, mock.ExpectationsWereMet())
}
