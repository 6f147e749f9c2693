package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/leadflow-ai/internal/leads"
)

// StructuredResponse is a model reply that passed validation.
type StructuredResponse struct {
	Reply   string
	Lead    leads.Fields
	Urgency *string
	Notes   *string
}

// FieldError describes one violation at a JSON path.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationErrors lists every violation found in a model reply.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Reason)
	}
	return "conversation: invalid model response: " + strings.Join(parts, "; ")
}

// DecodeError means the model output was not parseable JSON at all.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("conversation: model output is not valid JSON: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var leadStringFields = []string{"name", "phone", "service", "commune"}

// DecodeResponse parses raw model text and validates it. The error is either
// a *DecodeError or ValidationErrors.
func DecodeResponse(raw string) (StructuredResponse, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return StructuredResponse{}, &DecodeError{Err: errors.New("empty output")}
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return StructuredResponse{}, &DecodeError{Err: err}
	}
	return ValidateResponse(v)
}

// ValidateResponse checks a decoded JSON value against the reply contract:
//
//	{"reply": "...", "lead": {"name": s|null, "phone": s|null, "service": s|null,
//	 "commune": s|null, "status": "cold"|"warm"|"hot", "urgency"?: s|null, "notes"?: s|null}}
func ValidateResponse(v any) (StructuredResponse, error) {
	root, ok := v.(map[string]any)
	if !ok {
		return StructuredResponse{}, ValidationErrors{{Field: "$", Reason: "must be a JSON object"}}
	}

	var (
		out  StructuredResponse
		errs ValidationErrors
	)

	if reply, present := root["reply"]; !present {
		errs = append(errs, FieldError{Field: "reply", Reason: "is required"})
	} else if s, ok := reply.(string); !ok {
		errs = append(errs, FieldError{Field: "reply", Reason: "must be a string"})
	} else if strings.TrimSpace(s) == "" {
		errs = append(errs, FieldError{Field: "reply", Reason: "must not be empty"})
	} else {
		out.Reply = strings.TrimSpace(s)
	}

	rawLead, present := root["lead"]
	if !present {
		errs = append(errs, FieldError{Field: "lead", Reason: "is required"})
		return StructuredResponse{}, errs
	}
	lead, ok := rawLead.(map[string]any)
	if !ok {
		errs = append(errs, FieldError{Field: "lead", Reason: "must be an object"})
		return StructuredResponse{}, errs
	}

	values := make(map[string]*string, len(leadStringFields))
	for _, key := range leadStringFields {
		val, present := lead[key]
		if !present {
			errs = append(errs, FieldError{Field: "lead." + key, Reason: "is required (use null when unknown)"})
			continue
		}
		s, fe := nullableString(val, "lead."+key)
		if fe != nil {
			errs = append(errs, *fe)
			continue
		}
		values[key] = s
	}
	out.Lead.Name = values["name"]
	out.Lead.Phone = values["phone"]
	out.Lead.Service = values["service"]
	out.Lead.Commune = values["commune"]

	if rawStatus, present := lead["status"]; !present {
		errs = append(errs, FieldError{Field: "lead.status", Reason: "is required"})
	} else if s, ok := rawStatus.(string); !ok {
		errs = append(errs, FieldError{Field: "lead.status", Reason: `must be one of "cold", "warm", "hot"`})
	} else if status := leads.Status(s); !status.Valid() {
		errs = append(errs, FieldError{Field: "lead.status", Reason: fmt.Sprintf(`must be one of "cold", "warm", "hot", got %q`, s)})
	} else {
		out.Lead.Status = status
	}

	for _, opt := range []struct {
		key string
		dst **string
	}{{"urgency", &out.Urgency}, {"notes", &out.Notes}} {
		val, present := lead[opt.key]
		if !present {
			continue
		}
		s, fe := nullableString(val, "lead."+opt.key)
		if fe != nil {
			errs = append(errs, *fe)
			continue
		}
		*opt.dst = s
	}

	if len(errs) > 0 {
		return StructuredResponse{}, errs
	}
	return out, nil
}

func nullableString(val any, field string) (*string, *FieldError) {
	if val == nil {
		return nil, nil
	}
	s, ok := val.(string)
	if !ok {
		return nil, &FieldError{Field: field, Reason: "must be a string or null"}
	}
	return leads.StringPtr(s), nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type wireLead struct {
	Name    *string      `json:"name"`
	Phone   *string      `json:"phone"`
	Service *string      `json:"service"`
	Commune *string      `json:"commune"`
	Status  leads.Status `json:"status"`
}

type wireResponse struct {
	Reply string   `json:"reply"`
	Lead  wireLead `json:"lead"`
}

// encodeAssistantTurn renders the persisted assistant turn: the reply plus the
// lead fields carrying the final status.
func encodeAssistantTurn(reply string, fields leads.Fields) string {
	body, err := json.Marshal(wireResponse{
		Reply: reply,
		Lead: wireLead{
			Name:    fields.Name,
			Phone:   fields.Phone,
			Service: fields.Service,
			Commune: fields.Commune,
			Status:  fields.Status,
		},
	})
	if err != nil {
		return reply
	}
	return string(body)
}

// correctionMessage is the user turn asking the model to fix its last output.
func correctionMessage(err error) string {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		var b strings.Builder
		b.WriteString("Your previous reply did not match the required JSON format. Fix these errors:\n")
		for _, fe := range verrs {
			fmt.Fprintf(&b, "- %s: %s\n", fe.Field, fe.Reason)
		}
		b.WriteString("Respond again with ONLY the corrected JSON object, no extra text.")
		return b.String()
	}
	return "Your previous reply was not valid JSON. Respond ONLY with a single JSON object of the form " +
		`{"reply": "...", "lead": {"name": null, "phone": null, "service": null, "commune": null, "status": "cold"}}` +
		", with no text before or after it."
}
