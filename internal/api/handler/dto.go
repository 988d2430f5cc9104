package handler

// ReferenceImageRequest carries one base64-encoded reference payload
type ReferenceImageRequest struct {
	Data        string `json:"data" binding:"required,base64"`
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// SubmitGenerationRequest represents a request to run a generation
type SubmitGenerationRequest struct {
	ProjectID   string                  `json:"project_id" binding:"required,uuid"`
	Model       string                  `json:"model" binding:"required"`
	Prompt      string                  `json:"prompt" binding:"required"`
	AspectRatio string                  `json:"aspect_ratio,omitempty"`
	Quality     string                  `json:"quality,omitempty"`
	References  []ReferenceImageRequest `json:"references,omitempty"`
}

// GenerationResponse represents a lifecycle record in API responses
type GenerationResponse struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	ProjectID    string `json:"project_id"`
	Status       string `json:"status"`
	Model        string `json:"model"`
	CreditCost   int64  `json:"credit_cost"`
	Prompt       string `json:"prompt"`
	OutputImage  string `json:"output_image,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// BalanceResponse represents an account balance in API responses
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// CreditEntryResponse represents a ledger entry in API responses
type CreditEntryResponse struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	Amount           int64  `json:"amount"`
	Reason           string `json:"reason"`
	RelatedRequestID string `json:"related_request_id,omitempty"`
	ExpiresAt        string `json:"expires_at,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// ReferralCodeResponse represents an account's shareable code
type ReferralCodeResponse struct {
	Code      string `json:"code"`
	CreatedAt string `json:"created_at"`
}

// ApplyReferralRequest represents a request to apply a referral code
type ApplyReferralRequest struct {
	Code string `json:"code" binding:"required"`
}

// RelationshipResponse represents a referral relationship in API responses
type RelationshipResponse struct {
	ID          string `json:"id"`
	ReferrerID  string `json:"referrer_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	QualifiedAt string `json:"qualified_at,omitempty"`
}

// ReferralStatsResponse represents aggregated referral results
type ReferralStatsResponse struct {
	TotalReferred int64 `json:"total_referred"`
	Qualified     int64 `json:"qualified"`
	Rewarded      int64 `json:"rewarded"`
	CreditsEarned int64 `json:"credits_earned"`
}

// RunDistributionRequest represents a request to run a periodic distribution
type RunDistributionRequest struct {
	PeriodKey string `json:"period_key" binding:"required"`
}

// DistributionRunResponse represents a distribution run in API responses
type DistributionRunResponse struct {
	ID             string `json:"id"`
	PeriodKey      string `json:"period_key"`
	UsersCount     int    `json:"users_count"`
	ProcessedCount int    `json:"processed_count"`
	ErrorCount     int    `json:"error_count"`
	StartedAt      string `json:"started_at"`
	CompletedAt    string `json:"completed_at"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=20" binding:"min=1,max=100"`
}
