package dto

import "github.com/noah-isme/sma-bulletin-api/internal/models"

// SubjectGradePayload is one subject line submitted for a preview computation.
type SubjectGradePayload struct {
	SubjectID   string   `json:"subject_id" validate:"required"`
	SubjectName string   `json:"subject_name" validate:"required,max=120"`
	Coefficient int      `json:"coefficient" validate:"min=1,max=20"`
	T1          *float64 `json:"t1" validate:"omitempty,gte=0,lte=20"`
	T2          *float64 `json:"t2" validate:"omitempty,gte=0,lte=20"`
	T3          *float64 `json:"t3" validate:"omitempty,gte=0,lte=20"`
	Remark      *string  `json:"remark,omitempty" validate:"omitempty,max=255"`
}

// NewSubjectGradePayload mirrors a stored grade so it can be checked against the same rules
// as submitted ones.
func NewSubjectGradePayload(g models.SubjectGrade) SubjectGradePayload {
	return SubjectGradePayload{
		SubjectID:   g.SubjectID,
		SubjectName: g.SubjectName,
		Coefficient: g.Coefficient,
		T1:          g.T1,
		T2:          g.T2,
		T3:          g.T3,
		Remark:      g.Remark,
	}
}

// Model converts the payload to the engine type.
func (p SubjectGradePayload) Model() models.SubjectGrade {
	return models.SubjectGrade{
		SubjectID:   p.SubjectID,
		SubjectName: p.SubjectName,
		Coefficient: p.Coefficient,
		T1:          p.T1,
		T2:          p.T2,
		T3:          p.T3,
		Remark:      p.Remark,
	}
}

// GradePreviewRequest captures POST /grades/preview.
type GradePreviewRequest struct {
	Scope    models.Scope          `json:"scope" validate:"required,oneof=T1 T2 T3 ANNUAL"`
	Subjects []SubjectGradePayload `json:"subjects" validate:"required,min=1,dive"`
}

// GradePreviewResponse reports what a bulletin would show for the given grades.
type GradePreviewResponse struct {
	Scope           models.Scope            `json:"scope"`
	Average         *float64                `json:"average"`
	Validation      models.TermValidation   `json:"validation"`
	CouncilDecision *models.CouncilDecision `json:"council_decision,omitempty"`
}
