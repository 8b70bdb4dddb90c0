package forms

import (
	"strings"
	"testing"
)

func validICS213() *ICS213 {
	return &ICS213{
		To:          "Planning Section Chief",
		From:        "Ops Section Chief",
		Subject:     "Road closure on Route 9",
		MessageDate: "2026-08-25",
		MessageTime: "14:30",
		Body:        "Route 9 closed at mile marker 12 due to flooding.",
	}
}

func validICS214() *ICS214 {
	return &ICS214{
		IncidentName: "Cedar River Flood",
		PeriodStart:  "2026-08-24",
		PeriodEnd:    "2026-08-25",
		Name:         "J. Alvarez",
		ICSPosition:  "Comms Unit Leader",
		Activities: []ActivityEntry{
			{At: "08:15", Detail: "Net opened on VHF primary"},
		},
	}
}

func TestValidateICS213Draft(t *testing.T) {
	if verrs := Validate(TypeICS213, StateDraft, validICS213(), DefaultLimits()); !verrs.Ok() {
		t.Fatalf("expected valid, got %v", verrs)
	}
}

func TestValidateICS213RequiredFields(t *testing.T) {
	p := &ICS213{}
	verrs := Validate(TypeICS213, StateDraft, p, DefaultLimits())
	for _, field := range []string{"to", "from", "subject", "body", "message_date"} {
		if _, ok := verrs[field]; !ok {
			t.Fatalf("expected error for %s, got %v", field, verrs)
		}
	}
}

func TestValidateICS213LengthLimits(t *testing.T) {
	limits := Limits{MaxSubjectChars: 10, MaxBodyChars: 20}
	p := validICS213()
	p.Subject = strings.Repeat("s", 11)
	p.Body = strings.Repeat("b", 21)
	verrs := Validate(TypeICS213, StateDraft, p, limits)
	if _, ok := verrs["subject"]; !ok {
		t.Fatalf("expected subject length error, got %v", verrs)
	}
	if _, ok := verrs["body"]; !ok {
		t.Fatalf("expected body length error, got %v", verrs)
	}
}

func TestValidateICS213DateAndTimeFormats(t *testing.T) {
	p := validICS213()
	p.MessageDate = "08/25/2026"
	p.MessageTime = "2:30 PM"
	verrs := Validate(TypeICS213, StateDraft, p, DefaultLimits())
	if verrs["message_date"] == "" {
		t.Fatalf("expected message_date format error, got %v", verrs)
	}
	if verrs["message_time"] == "" {
		t.Fatalf("expected message_time format error, got %v", verrs)
	}
}

func TestValidateICS213ApprovedRequiresSignature(t *testing.T) {
	p := validICS213()
	verrs := Validate(TypeICS213, StateApproved, p, DefaultLimits())
	if verrs["approved_by"] == "" {
		t.Fatalf("expected approved_by error, got %v", verrs)
	}
	p.ApprovedBy = "Incident Commander"
	if verrs := Validate(TypeICS213, StateApproved, p, DefaultLimits()); !verrs.Ok() {
		t.Fatalf("expected valid after signature, got %v", verrs)
	}
}

func TestValidateICS213RepliedRequiresReply(t *testing.T) {
	p := validICS213()
	verrs := Validate(TypeICS213, StateReplied, p, DefaultLimits())
	if verrs["reply_body"] == "" || verrs["replied_by"] == "" {
		t.Fatalf("expected reply errors, got %v", verrs)
	}
	p.ReplyBody = "Acknowledged, rerouting supply trucks."
	p.RepliedBy = "Planning Section Chief"
	if verrs := Validate(TypeICS213, StateReplied, p, DefaultLimits()); !verrs.Ok() {
		t.Fatalf("expected valid reply, got %v", verrs)
	}
}

func TestValidateICS214Draft(t *testing.T) {
	if verrs := Validate(TypeICS214, StateDraft, validICS214(), DefaultLimits()); !verrs.Ok() {
		t.Fatalf("expected valid, got %v", verrs)
	}
}

func TestValidateICS214PeriodOrder(t *testing.T) {
	p := validICS214()
	p.PeriodStart = "2026-08-25"
	p.PeriodEnd = "2026-08-24"
	verrs := Validate(TypeICS214, StateDraft, p, DefaultLimits())
	if verrs["period_end"] == "" {
		t.Fatalf("expected period_end ordering error, got %v", verrs)
	}
}

func TestValidateICS214Activities(t *testing.T) {
	p := validICS214()
	p.Activities = append(p.Activities, ActivityEntry{At: "25:99", Detail: ""})
	verrs := Validate(TypeICS214, StateDraft, p, DefaultLimits())
	if verrs["activities[1].at"] == "" {
		t.Fatalf("expected activity time error, got %v", verrs)
	}
	if verrs["activities[1].detail"] == "" {
		t.Fatalf("expected activity detail error, got %v", verrs)
	}
}

func TestValidateICS214Resources(t *testing.T) {
	p := validICS214()
	p.Resources = []Resource{{Name: ""}}
	verrs := Validate(TypeICS214, StateDraft, p, DefaultLimits())
	if verrs["resources[0].name"] == "" {
		t.Fatalf("expected resource name error, got %v", verrs)
	}
}

func TestValidateWrongPayloadType(t *testing.T) {
	verrs := Validate(TypeICS213, StateDraft, validICS214(), DefaultLimits())
	if verrs["payload"] == "" {
		t.Fatalf("expected payload type error, got %v", verrs)
	}
}
