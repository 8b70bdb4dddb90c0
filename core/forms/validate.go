package forms

import (
	"fmt"
	"strings"
	"time"
)

// ValidationErrors maps payload field names to human-readable messages.
// An empty map means the form is valid. Validation failures are data,
// never errors: callers decide whether to reject or surface them.
type ValidationErrors map[string]string

func (v ValidationErrors) Ok() bool { return len(v) == 0 }

type Limits struct {
	MaxSubjectChars int
	MaxBodyChars    int
}

func DefaultLimits() Limits {
	return Limits{MaxSubjectChars: 140, MaxBodyChars: 4000}
}

// Validate checks a typed payload against the rules for its form type and
// current lifecycle state. State-conditional rules: an approved ICS-213
// carries an approval signature; a replied one carries the reply and its
// author.
func Validate(formType FormType, state FormState, payload any, limits Limits) ValidationErrors {
	if limits.MaxSubjectChars <= 0 {
		limits.MaxSubjectChars = DefaultLimits().MaxSubjectChars
	}
	if limits.MaxBodyChars <= 0 {
		limits.MaxBodyChars = DefaultLimits().MaxBodyChars
	}
	switch formType {
	case TypeICS213:
		p, ok := payload.(*ICS213)
		if !ok {
			return ValidationErrors{"payload": "wrong payload type for ics213"}
		}
		return validateICS213(state, p, limits)
	case TypeICS214:
		p, ok := payload.(*ICS214)
		if !ok {
			return ValidationErrors{"payload": "wrong payload type for ics214"}
		}
		return validateICS214(state, p)
	default:
		return ValidationErrors{"form_type": fmt.Sprintf("unknown form type %q", formType)}
	}
}

func validateICS213(state FormState, p *ICS213, limits Limits) ValidationErrors {
	errs := ValidationErrors{}
	requireField(errs, "to", p.To)
	requireField(errs, "from", p.From)
	requireField(errs, "subject", p.Subject)
	requireField(errs, "body", p.Body)
	if len(p.Subject) > limits.MaxSubjectChars {
		errs["subject"] = fmt.Sprintf("must be at most %d characters", limits.MaxSubjectChars)
	}
	if len(p.Body) > limits.MaxBodyChars {
		errs["body"] = fmt.Sprintf("must be at most %d characters", limits.MaxBodyChars)
	}
	requireDate(errs, "message_date", p.MessageDate)
	optionalTime(errs, "message_time", p.MessageTime)
	optionalDate(errs, "reply_date", p.ReplyDate)

	switch state {
	case StateApproved, StateTransmitted, StateReceived, StateReplied, StateReturned, StateArchived:
		if strings.TrimSpace(p.ApprovedBy) == "" && state == StateApproved {
			errs["approved_by"] = "approval requires a signature"
		}
	}
	if state == StateReplied {
		requireField(errs, "reply_body", p.ReplyBody)
		requireField(errs, "replied_by", p.RepliedBy)
	}
	return errs
}

func validateICS214(state FormState, p *ICS214) ValidationErrors {
	errs := ValidationErrors{}
	requireField(errs, "incident_name", p.IncidentName)
	requireField(errs, "name", p.Name)
	requireField(errs, "ics_position", p.ICSPosition)
	requireDate(errs, "period_start", p.PeriodStart)
	requireDate(errs, "period_end", p.PeriodEnd)
	if _, okStart := errs["period_start"]; !okStart {
		if _, okEnd := errs["period_end"]; !okEnd {
			start, _ := time.Parse(DateLayout, p.PeriodStart)
			end, _ := time.Parse(DateLayout, p.PeriodEnd)
			if end.Before(start) {
				errs["period_end"] = "must not be before period_start"
			}
		}
	}
	for i, entry := range p.Activities {
		if strings.TrimSpace(entry.Detail) == "" {
			errs[fmt.Sprintf("activities[%d].detail", i)] = "required"
		}
		if strings.TrimSpace(entry.At) != "" {
			if _, err := time.Parse(TimeLayout, entry.At); err != nil {
				errs[fmt.Sprintf("activities[%d].at", i)] = "must match HH:MM"
			}
		} else {
			errs[fmt.Sprintf("activities[%d].at", i)] = "required"
		}
	}
	for i, res := range p.Resources {
		if strings.TrimSpace(res.Name) == "" {
			errs[fmt.Sprintf("resources[%d].name", i)] = "required"
		}
	}
	if state == StateApproved {
		if strings.TrimSpace(p.PreparedBy) == "" {
			errs["prepared_by"] = "approval requires a preparer signature"
		}
	}
	return errs
}

func requireField(errs ValidationErrors, name, value string) {
	if strings.TrimSpace(value) == "" {
		errs[name] = "required"
	}
}

func requireDate(errs ValidationErrors, name, value string) {
	if strings.TrimSpace(value) == "" {
		errs[name] = "required"
		return
	}
	if _, err := time.Parse(DateLayout, value); err != nil {
		errs[name] = "must match YYYY-MM-DD"
	}
}

func optionalDate(errs ValidationErrors, name, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	if _, err := time.Parse(DateLayout, value); err != nil {
		errs[name] = "must match YYYY-MM-DD"
	}
}

func optionalTime(errs ValidationErrors, name, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	if _, err := time.Parse(TimeLayout, value); err != nil {
		errs[name] = "must match HH:MM"
	}
}
