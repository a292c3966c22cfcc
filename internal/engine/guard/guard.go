// Package guard is the authorization decision function consulted before
// every state mutation. It is pure: given a principal, an action, and a
// snapshot of the resource, it returns allow or deny with a reason. A deny
// is never representable without a reason.
package guard

import (
	"fmt"

	"gigline/internal/domain"
)

type Action string

const (
	CreateTask          Action = "create_task"
	EditTask            Action = "edit_task"
	PublishTask         Action = "publish_task"
	CancelTask          Action = "cancel_task"
	Apply               Action = "apply"
	WithdrawApplication Action = "withdraw_application"
	ReviewApplication   Action = "review_application"
	AcceptApplication   Action = "accept_application"
	RejectApplication   Action = "reject_application"
	StartWork           Action = "start_work"
	SubmitWork          Action = "submit_work"
	ReviewSubmission    Action = "review_submission"
	CompleteTask        Action = "complete_task"
)

type Reason string

const (
	ReasonWrongRole    Reason = "wrong_role"
	ReasonNotOwner     Reason = "not_owner"
	ReasonNotAssignee  Reason = "not_assignee"
	ReasonNotAuthor    Reason = "not_author"
	ReasonInvalidState Reason = "invalid_state"
	ReasonOwnTask      Reason = "own_task"
)

// Resource is the snapshot of the entity an action targets. Only the fields
// relevant to the action need to be populated.
type Resource struct {
	TaskOwnerID          string
	TaskStatus           domain.TaskStatus
	AssignedFreelancerID string
	ApplicationAuthorID  string
	ApplicationStatus    domain.ApplicationStatus
}

type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason Reason) Decision { return Decision{Reason: reason} }

// DeniedError carries the structured deny reason to the caller so the
// presentation layer can map it to a concrete destination instead of an
// empty redirect.
type DeniedError struct {
	Action Action
	Reason Reason
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("action %s denied: %s", e.Action, e.Reason)
}

type policy struct {
	role  domain.Role
	check func(p domain.Principal, res Resource) Decision
}

func ownerOnly(p domain.Principal, res Resource) Decision {
	if p.ID != res.TaskOwnerID {
		return deny(ReasonNotOwner)
	}
	return allow()
}

func assigneeOnly(p domain.Principal, res Resource) Decision {
	if res.AssignedFreelancerID == "" || p.ID != res.AssignedFreelancerID {
		return deny(ReasonNotAssignee)
	}
	return allow()
}

func authorOnly(p domain.Principal, res Resource) Decision {
	if p.ID != res.ApplicationAuthorID {
		return deny(ReasonNotAuthor)
	}
	return allow()
}

func notOwnTask(p domain.Principal, res Resource) Decision {
	if p.ID == res.TaskOwnerID {
		return deny(ReasonOwnTask)
	}
	return allow()
}

func anyone(domain.Principal, Resource) Decision { return allow() }

// policyTable is the single source of truth for role x action x ownership.
var policyTable = map[Action]policy{
	CreateTask:          {role: domain.RoleClient, check: anyone},
	EditTask:            {role: domain.RoleClient, check: ownerOnly},
	PublishTask:         {role: domain.RoleClient, check: ownerOnly},
	CancelTask:          {role: domain.RoleClient, check: ownerOnly},
	Apply:               {role: domain.RoleFreelancer, check: notOwnTask},
	WithdrawApplication: {role: domain.RoleFreelancer, check: authorOnly},
	ReviewApplication:   {role: domain.RoleClient, check: ownerOnly},
	AcceptApplication:   {role: domain.RoleClient, check: ownerOnly},
	RejectApplication:   {role: domain.RoleClient, check: ownerOnly},
	StartWork:           {role: domain.RoleFreelancer, check: assigneeOnly},
	SubmitWork:          {role: domain.RoleFreelancer, check: assigneeOnly},
	ReviewSubmission:    {role: domain.RoleClient, check: ownerOnly},
	CompleteTask:        {role: domain.RoleClient, check: ownerOnly},
}

// Authorize evaluates action against the policy table. Role mismatch is
// checked before ownership so a freelancer probing an owner action learns
// only wrong_role.
func Authorize(p domain.Principal, action Action, res Resource) Decision {
	pol, ok := policyTable[action]
	if !ok {
		return deny(ReasonInvalidState)
	}
	if p.Role != pol.role {
		return deny(ReasonWrongRole)
	}
	return pol.check(p, res)
}

// Require returns a DeniedError unless the guard allows the action.
func Require(p domain.Principal, action Action, res Resource) error {
	d := Authorize(p, action, res)
	if !d.Allowed {
		return DeniedError{Action: action, Reason: d.Reason}
	}
	return nil
}
