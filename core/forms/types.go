// Package forms models FEMA ICS forms (ICS-213 general messages and
// ICS-214 activity logs), their validation rules, and the lifecycle that
// moves a form from draft through approval, transmission, receipt and reply.
package forms

import "strings"

type FormType string

const (
	TypeICS213 FormType = "ics213"
	TypeICS214 FormType = "ics214"
)

type FormState string

const (
	StateDraft       FormState = "draft"
	StateApproved    FormState = "approved"
	StateTransmitted FormState = "transmitted"
	StateReceived    FormState = "received"
	StateReplied     FormState = "replied"
	StateReturned    FormState = "returned"
	StateArchived    FormState = "archived"
)

// Date and clock-time formats used on the paper forms.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

func ParseFormType(raw string) (FormType, bool) {
	switch FormType(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeICS213:
		return TypeICS213, true
	case TypeICS214:
		return TypeICS214, true
	}
	return "", false
}

func ParseFormState(raw string) (FormState, bool) {
	switch FormState(strings.ToLower(strings.TrimSpace(raw))) {
	case StateDraft:
		return StateDraft, true
	case StateApproved:
		return StateApproved, true
	case StateTransmitted:
		return StateTransmitted, true
	case StateReceived:
		return StateReceived, true
	case StateReplied:
		return StateReplied, true
	case StateReturned:
		return StateReturned, true
	case StateArchived:
		return StateArchived, true
	}
	return "", false
}

// ICS213 is the payload of a general message form. Dates and clock times
// travel as strings in the layouts above so a round trip through the store
// preserves exactly what the operator entered.
type ICS213 struct {
	To               string `json:"to"`
	ToPosition       string `json:"to_position,omitempty"`
	From             string `json:"from"`
	FromPosition     string `json:"from_position,omitempty"`
	Subject          string `json:"subject"`
	MessageDate      string `json:"message_date"`
	MessageTime      string `json:"message_time,omitempty"`
	Body             string `json:"body"`
	ApprovedBy       string `json:"approved_by,omitempty"`
	ApprovedPosition string `json:"approved_position,omitempty"`
	ReplyBody        string `json:"reply_body,omitempty"`
	RepliedBy        string `json:"replied_by,omitempty"`
	ReplyDate        string `json:"reply_date,omitempty"`
}

// ICS214 is the payload of a unit activity log.
type ICS214 struct {
	IncidentName string          `json:"incident_name"`
	PeriodStart  string          `json:"period_start"`
	PeriodEnd    string          `json:"period_end"`
	Name         string          `json:"name"`
	ICSPosition  string          `json:"ics_position"`
	HomeAgency   string          `json:"home_agency,omitempty"`
	Resources    []Resource      `json:"resources,omitempty"`
	Activities   []ActivityEntry `json:"activities,omitempty"`
	PreparedBy   string          `json:"prepared_by,omitempty"`
}

type Resource struct {
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
	Agency   string `json:"agency,omitempty"`
}

type ActivityEntry struct {
	At     string `json:"at"`
	Detail string `json:"detail"`
}
