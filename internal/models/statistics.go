package models

// ClassStatistics aggregates the ranked averages of a class for one scope.
type ClassStatistics struct {
	Count    int      `json:"count"`
	Mean     *float64 `json:"mean"`
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	PassRate *float64 `json:"pass_rate"`
}

// ClassStatisticsReport is the full result of a class computation.
type ClassStatisticsReport struct {
	ClassID      string              `json:"class_id"`
	Scope        Scope               `json:"scope"`
	AcademicYear string              `json:"academic_year"`
	PerStudent   map[string]*float64 `json:"per_student"`
	Ranks        map[string]int      `json:"ranks"`
	Unranked     []string            `json:"unranked"`
	Stats        ClassStatistics     `json:"stats"`
}

// StudentStanding is one student's position in their class.
type StudentStanding struct {
	StudentID string   `json:"student_id"`
	Average   *float64 `json:"average"`
	Rank      *int     `json:"rank"`
	Ranked    int      `json:"ranked_students"`
	Total     int      `json:"total_students"`
}
