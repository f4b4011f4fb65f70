package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Scope selects which scores an average is computed from.
type Scope string

const (
	ScopeT1     Scope = "T1"
	ScopeT2     Scope = "T2"
	ScopeT3     Scope = "T3"
	ScopeAnnual Scope = "ANNUAL"
)

// IsTerm reports whether the scope is a single grading period.
func (s Scope) IsTerm() bool {
	return s == ScopeT1 || s == ScopeT2 || s == ScopeT3
}

// Valid reports whether the scope is known.
func (s Scope) Valid() bool {
	return s.IsTerm() || s == ScopeAnnual
}

// SubjectGrade is one subject's record for one student within one academic year.
// Scores are on a 0-20 scale; nil means not graded yet.
type SubjectGrade struct {
	SubjectID   string   `db:"subject_id" json:"subject_id"`
	SubjectName string   `db:"subject_name" json:"subject_name"`
	Coefficient int      `db:"coefficient" json:"coefficient"`
	T1          *float64 `db:"t1" json:"t1"`
	T2          *float64 `db:"t2" json:"t2"`
	T3          *float64 `db:"t3" json:"t3"`
	Remark      *string  `db:"remark" json:"remark,omitempty"`
}

// Term returns the score recorded for a single term scope.
func (g SubjectGrade) Term(scope Scope) *float64 {
	switch scope {
	case ScopeT1:
		return g.T1
	case ScopeT2:
		return g.T2
	case ScopeT3:
		return g.T3
	default:
		return nil
	}
}

// Clone returns a deep copy so snapshots never share score pointers with live data.
func (g SubjectGrade) Clone() SubjectGrade {
	out := g
	out.T1 = cloneFloat(g.T1)
	out.T2 = cloneFloat(g.T2)
	out.T3 = cloneFloat(g.T3)
	if g.Remark != nil {
		r := *g.Remark
		out.Remark = &r
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// StudentGrades groups a student's subject list for one class and year.
type StudentGrades struct {
	StudentID string         `json:"student_id"`
	Subjects  []SubjectGrade `json:"subjects"`
}

// TermValidation reports which subjects lack the score a scope requires.
type TermValidation struct {
	Valid           bool     `json:"valid"`
	MissingSubjects []string `json:"missing_subjects"`
}

// SubjectSnapshot is the frozen subject list stored with a bulletin as JSONB.
type SubjectSnapshot []SubjectGrade

// Value marshals the snapshot to JSON for persistence.
func (s SubjectSnapshot) Value() (driver.Value, error) {
	if s == nil {
		s = SubjectSnapshot{}
	}
	data, err := json.Marshal([]SubjectGrade(s))
	if err != nil {
		return nil, fmt.Errorf("marshal subject snapshot: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the snapshot.
func (s *SubjectSnapshot) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for SubjectSnapshot", value)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	var out []SubjectGrade
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal subject snapshot: %w", err)
	}
	*s = out
	return nil
}
