package dto

import "github.com/noah-isme/sma-bulletin-api/internal/models"

// CommentRequest carries an optional reviewer comment. Reject requires it.
type CommentRequest struct {
	Comment string `json:"comment" validate:"max=1000"`
}

// ClassTermRequest selects the bulletins of one class term.
type ClassTermRequest struct {
	Term         models.Scope `json:"term" validate:"required,oneof=T1 T2 T3"`
	AcademicYear string       `json:"academic_year" validate:"required,max=16"`
}

// BulletinListQuery captures GET /classes/:id/bulletins query parameters.
type BulletinListQuery struct {
	Term         models.Scope `form:"term" validate:"omitempty,oneof=T1 T2 T3"`
	AcademicYear string       `form:"academic_year"`
	Status       string       `form:"status" validate:"omitempty,oneof=draft submitted approved rejected published sent"`
	Page         int          `form:"page" validate:"omitempty,min=1"`
	PageSize     int          `form:"page_size" validate:"omitempty,min=1,max=200"`
}

// StatisticsQuery captures GET /classes/:id/statistics query parameters.
type StatisticsQuery struct {
	Scope        models.Scope `form:"scope" validate:"required,oneof=T1 T2 T3 ANNUAL"`
	AcademicYear string       `form:"academic_year" validate:"required"`
}
