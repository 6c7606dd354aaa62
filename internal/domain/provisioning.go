package domain

// ProvisionRequest is handed to downstream provisioning once a requirement
// is accepted.
type ProvisionRequest struct {
	RequirementID string `json:"requirement_id"`
	ProjectID     string `json:"project_id"`
	WorkerID      string `json:"worker_id"`
	IsSynthetic   bool   `json:"is_synthetic"`
}

// OfferNotice tells workers a requirement they are eligible for is open.
type OfferNotice struct {
	RequirementID string   `json:"requirement_id"`
	ProjectID     string   `json:"project_id"`
	RoleID        string   `json:"role_id"`
	WorkerIDs     []string `json:"worker_ids"`
}

// TakenNotice tells the other offer recipients that a requirement was filled.
// It never names the holder.
type TakenNotice struct {
	RequirementID string   `json:"requirement_id"`
	ProjectID     string   `json:"project_id"`
	WorkerIDs     []string `json:"worker_ids"`
}
