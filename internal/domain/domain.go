package domain

// Role is the single role a principal holds for its whole lifetime.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

// ValidRole reports whether r belongs to the closed role set.
func ValidRole(r Role) bool {
	return r == RoleClient || r == RoleFreelancer
}

type TaskStatus string

const (
	TaskDraft      TaskStatus = "draft"
	TaskOpen       TaskStatus = "open"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskSubmitted  TaskStatus = "submitted"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no outbound transition exists from s.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// RequiresAssignee reports whether s implies AssignedFreelancerID is set.
func (s TaskStatus) RequiresAssignee() bool {
	switch s {
	case TaskAssigned, TaskInProgress, TaskSubmitted, TaskCompleted:
		return true
	}
	return false
}

type ApplicationStatus string

const (
	ApplicationPending   ApplicationStatus = "pending"
	ApplicationAccepted  ApplicationStatus = "accepted"
	ApplicationRejected  ApplicationStatus = "rejected"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
)

func (s ApplicationStatus) Terminal() bool {
	return s != ApplicationPending
}

type Principal struct {
	ID          string `json:"id"`
	Role        Role   `json:"role" enum:"client,freelancer"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID                   string     `json:"id"`
	OwnerID              string     `json:"owner_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	Deadline             string     `json:"deadline" format:"date-time"`
	Budget               int64      `json:"budget"`
	Status               TaskStatus `json:"status" enum:"draft,open,assigned,in_progress,submitted,completed,cancelled"`
	AssignedFreelancerID *string    `json:"assigned_freelancer_id,omitempty"`
	DeliverableJSON      *string    `json:"deliverable_json,omitempty"`
	Version              int64      `json:"version"`
	CreatedAt            string     `json:"created_at" format:"date-time"`
	UpdatedAt            string     `json:"updated_at" format:"date-time"`
}

type Application struct {
	ID             string            `json:"id"`
	TaskID         string            `json:"task_id"`
	FreelancerID   string            `json:"freelancer_id"`
	Message        string            `json:"message,omitempty"`
	ProposedBudget *int64            `json:"proposed_budget,omitempty"`
	Status         ApplicationStatus `json:"status" enum:"pending,accepted,rejected,withdrawn"`
	CreatedAt      string            `json:"created_at" format:"date-time"`
	UpdatedAt      string            `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name,omitempty"`
	KeyHash     string `json:"key_hash"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
