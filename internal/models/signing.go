package models

// SigningFailure reports a bulletin that could not be signed.
type SigningFailure struct {
	BulletinID string `json:"bulletin_id"`
	Error      string `json:"error"`
}

// SigningSkip reports a bulletin left alone because of its status.
type SigningSkip struct {
	BulletinID string         `json:"bulletin_id"`
	Status     BulletinStatus `json:"status"`
}

// BulkSignResult is the outcome of signing every approved bulletin of a class.
type BulkSignResult struct {
	SignedCount   int              `json:"signed_count"`
	AlreadySigned []string         `json:"already_signed"`
	Skipped       []SigningSkip    `json:"skipped"`
	Failures      []SigningFailure `json:"failures"`
}
