package domain

type ProjectStatus string

const (
	ProjectDraft     ProjectStatus = "draft"
	ProjectSearching ProjectStatus = "searching"
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
)

type BookingStatus string

const (
	BookingDraft     BookingStatus = "draft"
	BookingSearching BookingStatus = "searching"
	BookingAccepted  BookingStatus = "accepted"
	BookingDeclined  BookingStatus = "declined"
	BookingExpired   BookingStatus = "expired"
)

// Terminal reports whether no further transition is allowed out of s.
func (s BookingStatus) Terminal() bool {
	return s == BookingAccepted || s == BookingDeclined || s == BookingExpired
}

type Seniority string

const (
	SeniorityJunior       Seniority = "junior"
	SeniorityIntermediate Seniority = "intermediate"
	SenioritySenior       Seniority = "senior"
	SeniorityExpert       Seniority = "expert"
)

func (s Seniority) Valid() bool {
	switch s {
	case SeniorityJunior, SeniorityIntermediate, SenioritySenior, SeniorityExpert:
		return true
	}
	return false
}

type Availability string

const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

type WorkerKind string

const (
	WorkerHuman     WorkerKind = "human"
	WorkerSynthetic WorkerKind = "synthetic"
)

type Project struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Title     string        `json:"title"`
	Status    ProjectStatus `json:"status" enum:"draft,searching,active,completed"`
	CreatedAt string        `json:"created_at" format:"date-time"`
	UpdatedAt string        `json:"updated_at" format:"date-time"`
}

// Requirement is one role-slot on a project. HolderID is set if and only if
// BookingStatus is accepted.
type Requirement struct {
	ID                 string        `json:"id"`
	ProjectID          string        `json:"project_id"`
	RoleID             string        `json:"role_id"`
	Seniority          Seniority     `json:"seniority" enum:"junior,intermediate,senior,expert"`
	RequiredLanguages  []string      `json:"required_languages"`
	RequiredExpertises []string      `json:"required_expertises"`
	BookingStatus      BookingStatus `json:"booking_status" enum:"draft,searching,accepted,declined,expired"`
	HolderID           *string       `json:"holder_id,omitempty"`
	IsSynthetic        bool          `json:"is_synthetic"`
	DeclineReason      string        `json:"decline_reason,omitempty"`
	SearchDeadline     *string       `json:"search_deadline,omitempty" format:"date-time"`
	Version            int64         `json:"version"`
	CreatedAt          string        `json:"created_at" format:"date-time"`
	UpdatedAt          string        `json:"updated_at" format:"date-time"`
}

type Worker struct {
	ID           string       `json:"id"`
	RoleID       string       `json:"role_id"`
	DisplayName  string       `json:"display_name,omitempty"`
	Seniority    Seniority    `json:"seniority" enum:"junior,intermediate,senior,expert"`
	Languages    []string     `json:"languages"`
	Expertises   []string     `json:"expertises"`
	Availability Availability `json:"availability" enum:"available,unavailable"`
	Kind         WorkerKind   `json:"kind" enum:"human,synthetic"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
	UpdatedAt    string       `json:"updated_at" format:"date-time"`
}

// Assignment is the durable record of a requirement's single acceptance.
type Assignment struct {
	RequirementID string  `json:"requirement_id"`
	ProjectID     string  `json:"project_id"`
	WorkerID      string  `json:"worker_id"`
	IsSynthetic   bool    `json:"is_synthetic"`
	AcceptedAt    string  `json:"accepted_at" format:"date-time"`
	ReleasedAt    *string `json:"released_at,omitempty" format:"date-time"`
}

// Event is one committed transition in the change log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	WorkerID   string `json:"worker_id,omitempty"`
	EntityKind string `json:"entity_kind" enum:"project,requirement,worker"`
	EntityID   string `json:"entity_id"`
	FromState  string `json:"from_state,omitempty"`
	ToState    string `json:"to_state,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type ClaimAttempt struct {
	ID            int64  `json:"id"`
	RequirementID string `json:"requirement_id"`
	WorkerID      string `json:"worker_id"`
	Outcome       string `json:"outcome"`
	TS            string `json:"ts" format:"date-time"`
}

type JobKind string

const (
	JobProvision JobKind = "provision"
	JobNotify    JobKind = "notify"
	JobTaken     JobKind = "taken"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Job is an outbox entry drained asynchronously by the provisioning dispatcher.
type Job struct {
	ID            int64     `json:"id"`
	Kind          JobKind   `json:"kind"`
	RequirementID string    `json:"requirement_id"`
	Payload       string    `json:"payload_json"`
	Status        JobStatus `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt string    `json:"next_attempt_at" format:"date-time"`
	LockedUntil   *string   `json:"locked_until,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     string    `json:"created_at" format:"date-time"`
	UpdatedAt     string    `json:"updated_at" format:"date-time"`
}
