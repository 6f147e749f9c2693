// Package classifier assigns a lead temperature from deterministic rules.
//
// The model proposes a status every turn; the rules here recompute it from the
// extracted contact fields and everything the user has written, and the rule
// result always wins.
package classifier

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/leadflow-ai/internal/leads"
)

// Rule names the criterion that decided a classification.
type Rule string

const (
	RuleHotContactKeyword Rule = "hot_contact_keyword"
	RuleHotUrgency        Rule = "hot_urgency"
	RuleHotAction         Rule = "hot_action_request"
	RuleHotFullContact    Rule = "hot_full_contact"
	RuleWarmContact       Rule = "warm_contact"
	RuleWarmService       Rule = "warm_service"
	RuleWarmInterest      Rule = "warm_interest"
	RuleWarmTurns         Rule = "warm_turns"
	RuleCold              Rule = "cold"
)

const (
	minServiceLength = 4
	warmTurnCount    = 3
)

// Result is the outcome of evaluating the rules once.
type Result struct {
	Status  leads.Status
	Rule    Rule
	Keyword string
	Reason  string
}

// Decision reconciles the model's proposed status with the rule result.
// FinalStatus always equals RuleStatus; Agree reports whether the model
// proposed the same value.
type Decision struct {
	ModelStatus leads.Status `json:"model_status"`
	RuleStatus  leads.Status `json:"rule_status"`
	FinalStatus leads.Status `json:"final_status"`
	Agree       bool         `json:"agree"`
	Rule        Rule         `json:"rule"`
	Reason      string       `json:"reason"`
}

// Classifier evaluates the temperature rules. It holds no mutable state and
// is safe for concurrent use.
type Classifier struct {
	kw Keywords
}

// New builds a classifier over kw.
func New(kw Keywords) (*Classifier, error) {
	if err := kw.validate(); err != nil {
		return nil, err
	}
	return &Classifier{kw: kw.normalized()}, nil
}

// Default builds a classifier over the embedded vocabulary.
func Default() *Classifier {
	c, err := New(DefaultKeywords())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the temperature for the given fields, the concatenated
// user text of the session and the number of user turns so far.
func (c *Classifier) Classify(fields leads.Fields, userText string, userTurns int) leads.Status {
	return c.Evaluate(fields, userText, userTurns).Status
}

// Evaluate runs the rules in order and reports which one fired.
func (c *Classifier) Evaluate(fields leads.Fields, userText string, userTurns int) Result {
	fields = fields.Normalize()
	text := strings.Join(strings.Fields(Fold(userText)), " ")

	hasName := fields.Name != nil
	hasPhone := fields.Phone != nil
	hasService := fields.Service != nil

	if hasName && hasPhone {
		if kw, ok := findTerm(text, c.kw.Hot); ok {
			return Result{
				Status:  leads.StatusHot,
				Rule:    RuleHotContactKeyword,
				Keyword: kw,
				Reason:  fmt.Sprintf("has name and phone and wrote %q", kw),
			}
		}
	}
	if kw, ok := findTerm(text, c.kw.Urgency); ok {
		return Result{
			Status:  leads.StatusHot,
			Rule:    RuleHotUrgency,
			Keyword: kw,
			Reason:  fmt.Sprintf("shows urgency (%q)", kw),
		}
	}
	if kw, ok := findTerm(text, c.kw.Action); ok {
		return Result{
			Status:  leads.StatusHot,
			Rule:    RuleHotAction,
			Keyword: kw,
			Reason:  fmt.Sprintf("requests direct action (%q)", kw),
		}
	}
	if hasName && hasPhone && hasService {
		return Result{
			Status: leads.StatusHot,
			Rule:   RuleHotFullContact,
			Reason: "gave name, phone and service",
		}
	}

	if hasName || hasPhone {
		return Result{
			Status: leads.StatusWarm,
			Rule:   RuleWarmContact,
			Reason: "gave some contact data",
		}
	}
	if hasService && utf8.RuneCountInString(*fields.Service) >= minServiceLength {
		return Result{
			Status: leads.StatusWarm,
			Rule:   RuleWarmService,
			Reason: fmt.Sprintf("asked about %q", *fields.Service),
		}
	}
	if kw, ok := findTerm(text, c.kw.Warm); ok {
		return Result{
			Status:  leads.StatusWarm,
			Rule:    RuleWarmInterest,
			Keyword: kw,
			Reason:  fmt.Sprintf("shows interest (%q)", kw),
		}
	}
	if userTurns > warmTurnCount {
		return Result{
			Status: leads.StatusWarm,
			Rule:   RuleWarmTurns,
			Reason: fmt.Sprintf("kept the conversation going for %d messages", userTurns),
		}
	}

	return Result{
		Status: leads.StatusCold,
		Rule:   RuleCold,
		Reason: "no contact data or buying signals yet",
	}
}

// Validate recomputes the status and reconciles it with modelStatus.
// Callers must adopt FinalStatus.
func (c *Classifier) Validate(modelStatus leads.Status, fields leads.Fields, userText string, userTurns int) Decision {
	res := c.Evaluate(fields, userText, userTurns)
	d := Decision{
		ModelStatus: modelStatus,
		RuleStatus:  res.Status,
		FinalStatus: res.Status,
		Agree:       modelStatus == res.Status,
		Rule:        res.Rule,
	}
	if d.Agree {
		d.Reason = res.Reason
	} else {
		d.Reason = fmt.Sprintf("model said %s, rules say %s: %s", displayStatus(modelStatus), res.Status, res.Reason)
	}
	return d
}

func displayStatus(s leads.Status) string {
	if s == "" {
		return "nothing"
	}
	return string(s)
}
