package core

import "testing"

func TestTicket_Validate(t *testing.T) {
	valid := &Ticket{
		WorkflowID:  "wf-1",
		Title:       "Fix login",
		Description: "Users cannot log in with SSO",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid ticket rejected: %v", err)
	}

	short := &Ticket{WorkflowID: "wf-1", Title: "ab", Description: "long enough text"}
	if err := short.Validate(); err == nil {
		t.Error("short title should fail")
	}

	shortDesc := &Ticket{WorkflowID: "wf-1", Title: "Fix login", Description: "short"}
	if err := shortDesc.Validate(); err == nil {
		t.Error("short description should fail")
	}

	noWF := &Ticket{Title: "Fix login", Description: "Users cannot log in with SSO"}
	if err := noWF.Validate(); err == nil {
		t.Error("missing workflow_id should fail")
	}
}

func TestTicket_IsReadyForWork(t *testing.T) {
	tk := &Ticket{ApprovalStatus: ApprovalPendingReview}
	if tk.IsReadyForWork() {
		t.Error("pending_review ticket must not be ready")
	}
	tk.ApprovalStatus = ApprovalRejected
	if tk.IsReadyForWork() {
		t.Error("rejected ticket must not be ready")
	}
	tk.ApprovalStatus = ApprovalApproved
	if !tk.IsReadyForWork() {
		t.Error("approved ticket must be ready")
	}
	tk.ApprovalStatus = ApprovalAutoApproved
	if !tk.IsReadyForWork() {
		t.Error("auto_approved ticket must be ready")
	}
	tk.IsResolved = true
	if tk.IsReadyForWork() {
		t.Error("resolved ticket must not be ready")
	}
}

func TestBoardConfig_Columns(t *testing.T) {
	b := &BoardConfig{Columns: []string{"backlog", "doing", "done"}}
	if !b.HasColumn("doing") {
		t.Error("doing should be a legal column")
	}
	if b.HasColumn("archived") {
		t.Error("archived should not be a legal column")
	}
}

func TestBoardConfig_AllowsType(t *testing.T) {
	open := &BoardConfig{}
	if !open.AllowsType("bug") {
		t.Error("empty allowlist permits every type")
	}

	strict := &BoardConfig{AllowedTypes: []string{"bug", "feature"}}
	if !strict.AllowsType("bug") {
		t.Error("bug should be allowed")
	}
	if strict.AllowsType("chore") {
		t.Error("chore should be refused")
	}
}
