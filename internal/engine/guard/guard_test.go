package guard_test

import (
	"testing"

	"gigline/internal/domain"
	"gigline/internal/engine/guard"
)

var (
	client     = domain.Principal{ID: "c1", Role: domain.RoleClient}
	otherOwner = domain.Principal{ID: "c2", Role: domain.RoleClient}
	freelancer = domain.Principal{ID: "f1", Role: domain.RoleFreelancer}
	bystander  = domain.Principal{ID: "f2", Role: domain.RoleFreelancer}
)

func TestAuthorizeTable(t *testing.T) {
	task := guard.Resource{TaskOwnerID: "c1", AssignedFreelancerID: "f1", ApplicationAuthorID: "f1"}
	cases := []struct {
		name      string
		principal domain.Principal
		action    guard.Action
		allowed   bool
		reason    guard.Reason
	}{
		{"client creates", client, guard.CreateTask, true, ""},
		{"freelancer cannot create", freelancer, guard.CreateTask, false, guard.ReasonWrongRole},
		{"owner edits", client, guard.EditTask, true, ""},
		{"non-owner cannot edit", otherOwner, guard.EditTask, false, guard.ReasonNotOwner},
		{"owner publishes", client, guard.PublishTask, true, ""},
		{"owner cancels", client, guard.CancelTask, true, ""},
		{"non-owner cannot cancel", otherOwner, guard.CancelTask, false, guard.ReasonNotOwner},
		{"freelancer applies", bystander, guard.Apply, true, ""},
		{"author withdraws", freelancer, guard.WithdrawApplication, true, ""},
		{"non-author cannot withdraw", bystander, guard.WithdrawApplication, false, guard.ReasonNotAuthor},
		{"owner accepts", client, guard.AcceptApplication, true, ""},
		{"non-owner cannot accept", otherOwner, guard.AcceptApplication, false, guard.ReasonNotOwner},
		{"owner rejects", client, guard.RejectApplication, true, ""},
		{"assignee starts", freelancer, guard.StartWork, true, ""},
		{"non-assignee cannot start", bystander, guard.StartWork, false, guard.ReasonNotAssignee},
		{"assignee submits", freelancer, guard.SubmitWork, true, ""},
		{"non-assignee cannot submit", bystander, guard.SubmitWork, false, guard.ReasonNotAssignee},
		{"owner completes", client, guard.CompleteTask, true, ""},
		{"non-owner cannot complete", otherOwner, guard.CompleteTask, false, guard.ReasonNotOwner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := guard.Authorize(tc.principal, tc.action, task)
			if d.Allowed != tc.allowed {
				t.Fatalf("allowed=%v, want %v", d.Allowed, tc.allowed)
			}
			if !tc.allowed && d.Reason != tc.reason {
				t.Fatalf("reason=%s, want %s", d.Reason, tc.reason)
			}
		})
	}
}

func TestRoleCheckedBeforeOwnership(t *testing.T) {
	// A freelancer probing owner actions must learn only wrong_role, even
	// when the ownership check would also fail.
	res := guard.Resource{TaskOwnerID: "c1"}
	for _, action := range []guard.Action{guard.EditTask, guard.PublishTask, guard.CancelTask, guard.AcceptApplication, guard.CompleteTask} {
		d := guard.Authorize(bystander, action, res)
		if d.Allowed || d.Reason != guard.ReasonWrongRole {
			t.Fatalf("%s: got %+v, want wrong_role deny", action, d)
		}
	}
	// And the other way: a client cannot apply to anything.
	d := guard.Authorize(otherOwner, guard.Apply, res)
	if d.Allowed || d.Reason != guard.ReasonWrongRole {
		t.Fatalf("apply: got %+v, want wrong_role deny", d)
	}
}

func TestOwnerCannotApplyToOwnTask(t *testing.T) {
	owner := domain.Principal{ID: "x1", Role: domain.RoleFreelancer}
	d := guard.Authorize(owner, guard.Apply, guard.Resource{TaskOwnerID: "x1"})
	if d.Allowed || d.Reason != guard.ReasonOwnTask {
		t.Fatalf("got %+v, want own_task deny", d)
	}
}

func TestUnassignedTaskDeniesAssigneeActions(t *testing.T) {
	d := guard.Authorize(freelancer, guard.StartWork, guard.Resource{TaskOwnerID: "c1"})
	if d.Allowed || d.Reason != guard.ReasonNotAssignee {
		t.Fatalf("got %+v, want not_assignee deny", d)
	}
}

func TestEveryDenyCarriesReason(t *testing.T) {
	err := guard.Require(freelancer, guard.EditTask, guard.Resource{TaskOwnerID: "c1"})
	de, ok := err.(guard.DeniedError)
	if !ok {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if de.Reason == "" || de.Action != guard.EditTask {
		t.Fatalf("deny missing structure: %+v", de)
	}
}
