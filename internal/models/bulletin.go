package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// BulletinStatus is the workflow state of a bulletin.
type BulletinStatus string

const (
	BulletinDraft     BulletinStatus = "draft"
	BulletinSubmitted BulletinStatus = "submitted"
	BulletinApproved  BulletinStatus = "approved"
	BulletinRejected  BulletinStatus = "rejected"
	BulletinPublished BulletinStatus = "published"
	BulletinSent      BulletinStatus = "sent"
)

// BulletinTransition names an action that moves a bulletin between states.
type BulletinTransition string

const (
	TransitionSubmit  BulletinTransition = "submit"
	TransitionApprove BulletinTransition = "approve"
	TransitionReject  BulletinTransition = "reject"
	TransitionReopen  BulletinTransition = "reopen"
	TransitionPublish BulletinTransition = "publish"
	TransitionSend    BulletinTransition = "send"
)

// Decision is the end-of-year promotion outcome.
type Decision string

const (
	DecisionPromote Decision = "promote"
	DecisionRepeat  Decision = "repeat"
)

// Mention is the distinction label attached to a council decision.
type Mention string

const (
	MentionExcellent Mention = "excellent"
	MentionGood      Mention = "good"
	MentionFair      Mention = "fair"
	MentionPass      Mention = "pass"
	MentionNone      Mention = "none"
)

// CouncilDecision is attached to T3 bulletins only.
type CouncilDecision struct {
	Decision      Decision `json:"decision"`
	Mention       Mention  `json:"mention"`
	AnnualAverage float64  `json:"annual_average"`
}

// Value marshals the decision to JSON for persistence.
func (d CouncilDecision) Value() (driver.Value, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal council decision: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the decision.
func (d *CouncilDecision) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for CouncilDecision", value)
	}
	if err := json.Unmarshal(data, d); err != nil {
		return fmt.Errorf("unmarshal council decision: %w", err)
	}
	return nil
}

// Bulletin is the report card of one student for one class and term.
type Bulletin struct {
	ID                   string           `db:"id" json:"id"`
	StudentID            string           `db:"student_id" json:"student_id"`
	ClassID              string           `db:"class_id" json:"class_id"`
	Term                 Scope            `db:"term" json:"term"`
	AcademicYear         string           `db:"academic_year" json:"academic_year"`
	GeneralAverage       *float64         `db:"general_average" json:"general_average"`
	ClassRank            *int             `db:"class_rank" json:"class_rank"`
	TotalStudentsInClass int              `db:"total_students" json:"total_students_in_class"`
	AnnualAverage        *float64         `db:"annual_average" json:"annual_average,omitempty"`
	CouncilDecision      *CouncilDecision `db:"council_decision" json:"council_decision,omitempty"`
	Status               BulletinStatus   `db:"status" json:"status"`
	Subjects             SubjectSnapshot  `db:"subjects" json:"subjects"`
	SubmittedBy          *string          `db:"submitted_by" json:"submitted_by,omitempty"`
	SubmittedAt          *time.Time       `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedBy           *string          `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt           *time.Time       `db:"approved_at" json:"approved_at,omitempty"`
	SnapshotFrozenAt     *time.Time       `db:"snapshot_frozen_at" json:"snapshot_frozen_at,omitempty"`
	PublishedAt          *time.Time       `db:"published_at" json:"published_at,omitempty"`
	SentAt               *time.Time       `db:"sent_at" json:"sent_at,omitempty"`
	LastApprovalComment  *string          `db:"last_approval_comment" json:"last_approval_comment,omitempty"`
	Version              int              `db:"version" json:"version"`
	CreatedBy            string           `db:"created_by" json:"created_by"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// BulletinFilter captures filtering criteria for listing bulletins of a class.
type BulletinFilter struct {
	ClassID      string
	AcademicYear string
	Term         Scope
	Status       *BulletinStatus
	Page         int
	PageSize     int
}

// Signature records one signer applying their signature to a bulletin.
type Signature struct {
	ID             string    `db:"id" json:"id"`
	BulletinID     string    `db:"bulletin_id" json:"bulletin_id"`
	SignerName     string    `db:"signer_name" json:"signer_name"`
	SignerPosition string    `db:"signer_position" json:"signer_position"`
	HasStamp       bool      `db:"has_stamp" json:"has_stamp"`
	SignedAt       time.Time `db:"signed_at" json:"signed_at"`
}

// StudentProfile is the student identity printed on a bulletin.
type StudentProfile struct {
	ID          string     `db:"id" json:"id"`
	FullName    string     `db:"full_name" json:"full_name"`
	Matricule   string     `db:"matricule" json:"matricule"`
	ClassName   string     `db:"class_name" json:"class_name"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
}

// SchoolInfo is the letterhead block of a bulletin document.
type SchoolInfo struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Motto   string `json:"motto,omitempty"`
}

// DocumentPeriod identifies which period the document covers.
type DocumentPeriod struct {
	Term         Scope  `json:"term"`
	AcademicYear string `json:"academic_year"`
}

// DocumentSubject is one printed subject line.
type DocumentSubject struct {
	SubjectName string   `json:"subject_name"`
	Coefficient int      `json:"coefficient"`
	Score       *float64 `json:"score"`
	Points      *float64 `json:"points"`
	Remark      *string  `json:"remark,omitempty"`
}

// BulletinDocumentData is the flat structure handed to the document renderer.
type BulletinDocumentData struct {
	BulletinID      string            `json:"bulletin_id"`
	Version         int               `json:"version"`
	Status          BulletinStatus    `json:"status"`
	School          SchoolInfo        `json:"school_info"`
	Student         StudentProfile    `json:"student"`
	Period          DocumentPeriod    `json:"period"`
	Subjects        []DocumentSubject `json:"subjects"`
	GeneralAverage  *float64          `json:"general_average"`
	ClassRank       *int              `json:"class_rank"`
	TotalStudents   int               `json:"total_students"`
	CouncilDecision *CouncilDecision  `json:"council_decision,omitempty"`
	Signatures      []Signature       `json:"signatures,omitempty"`
	GeneratedAt     time.Time         `json:"generated_at"`
}
