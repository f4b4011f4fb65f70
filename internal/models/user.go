package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleDirector UserRole = "DIRECTOR"
	RoleTeacher  UserRole = "TEACHER"
	// RoleSystem is used by background workers acting on behalf of the platform.
	RoleSystem UserRole = "SYSTEM"
)

// Actor identifies who triggers a workflow action.
type Actor struct {
	ID   string   `json:"id"`
	Role UserRole `json:"role"`
}

// SystemActor is the actor recorded for automatic transitions.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
