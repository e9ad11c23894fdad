package market

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentdyn/infosim/internal/oracle"
)

// Action is the tagged union of everything an agent can do in one turn.
// Each variant carries exactly the fields its dispatch path needs.
type Action interface {
	Kind() string
}

type SendMessage struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

type Broadcast struct {
	Content string `json:"content"`
}

type SendInformation struct {
	To          string         `json:"to"`
	Information []string       `json:"information"`
	Values      map[string]int `json:"values,omitempty"`
}

type SubmitTask struct {
	TaskID string `json:"task_id"`
	Answer string `json:"answer,omitempty"`
}

type SubmitReport struct {
	CooperationScores map[string]float64 `json:"cooperation_scores"`
}

func (SendMessage) Kind() string     { return "send_message" }
func (Broadcast) Kind() string       { return "broadcast" }
func (SendInformation) Kind() string { return "send_information" }
func (SubmitTask) Kind() string      { return "submit_task" }
func (SubmitReport) Kind() string    { return "submit_report" }

// One schema per action kind. A payload that fails its schema — including a
// "values" map whose entries are not plain integers — drops that action with
// a warning instead of being coerced into shape.
var actionSchemas = map[string]*jsonschema.Schema{
	"send_message": jsonschema.MustCompileString("send_message.json", `{
		"type": "object",
		"properties": {
			"action": {"const": "send_message"},
			"to": {"type": "string", "minLength": 1},
			"content": {"type": "string", "minLength": 1}
		},
		"required": ["action", "to", "content"]
	}`),
	"broadcast": jsonschema.MustCompileString("broadcast.json", `{
		"type": "object",
		"properties": {
			"action": {"const": "broadcast"},
			"content": {"type": "string", "minLength": 1}
		},
		"required": ["action", "content"]
	}`),
	"send_information": jsonschema.MustCompileString("send_information.json", `{
		"type": "object",
		"properties": {
			"action": {"const": "send_information"},
			"to": {"type": "string", "minLength": 1},
			"information": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1},
			"values": {"type": "object", "additionalProperties": {"type": "integer"}}
		},
		"required": ["action", "to", "information"]
	}`),
	"submit_task": jsonschema.MustCompileString("submit_task.json", `{
		"type": "object",
		"properties": {
			"action": {"const": "submit_task"},
			"task_id": {"type": "string", "minLength": 1},
			"answer": {"type": "string"}
		},
		"required": ["action", "task_id"]
	}`),
	"submit_report": jsonschema.MustCompileString("submit_report.json", `{
		"type": "object",
		"properties": {
			"action": {"const": "submit_report"},
			"cooperation_scores": {
				"type": "object",
				"minProperties": 1,
				"additionalProperties": {"type": "number", "minimum": 0, "maximum": 10}
			}
		},
		"required": ["action", "cooperation_scores"]
	}`),
}

// Turn is the parsed output of one oracle call: optional private thoughts
// plus zero or more validated actions.
type Turn struct {
	Thoughts string
	Actions  []Action
	Warnings []string // per-action drop reasons, for the caller to log
}

// ParseTurn turns raw oracle text into a Turn. Accepted shapes, tried in
// order after fence/think stripping: a JSON array of actions, a single action
// object, or a wrapper {"thoughts": "...", "actions": [...]}. When direct
// parsing fails, the first balanced JSON span in the text is tried. A turn
// with no salvageable JSON returns an error and is treated as skipped
// upstream. Individual malformed actions are dropped with a warning; sibling
// actions still apply. The action list is truncated at maxActions — excess
// actions are silently dropped, not deferred.
func ParseTurn(raw string, maxActions int) (Turn, error) {
	s := oracle.StripFences(raw)

	payload, err := decodeTurnJSON(s)
	if err != nil {
		span := oracle.ExtractJSON(s)
		if span == "" {
			return Turn{}, fmt.Errorf("market: no JSON in oracle output")
		}
		payload, err = decodeTurnJSON(span)
		if err != nil {
			return Turn{}, fmt.Errorf("market: unparseable oracle output: %w", err)
		}
	}

	turn := Turn{Thoughts: payload.thoughts}
	for _, rawAction := range payload.actions {
		act, warn := validateAction(rawAction)
		if warn != "" {
			turn.Warnings = append(turn.Warnings, warn)
			continue
		}
		turn.Actions = append(turn.Actions, act)
	}
	if maxActions > 0 && len(turn.Actions) > maxActions {
		turn.Warnings = append(turn.Warnings,
			fmt.Sprintf("turn emitted %d actions, truncated to %d", len(turn.Actions), maxActions))
		turn.Actions = turn.Actions[:maxActions]
	}
	return turn, nil
}

type turnPayload struct {
	thoughts string
	actions  []json.RawMessage
}

func decodeTurnJSON(s string) (turnPayload, error) {
	// Array of actions
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		return turnPayload{actions: arr}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return turnPayload{}, err
	}

	// Wrapper with thoughts and an actions array
	if rawActions, ok := obj["actions"]; ok {
		var p turnPayload
		if t, ok := obj["thoughts"]; ok {
			_ = json.Unmarshal(t, &p.thoughts)
		}
		if err := json.Unmarshal(rawActions, &p.actions); err != nil {
			return turnPayload{}, fmt.Errorf("actions is not an array: %w", err)
		}
		return p, nil
	}

	// Single action object
	raw, err := json.Marshal(obj)
	if err != nil {
		return turnPayload{}, err
	}
	return turnPayload{actions: []json.RawMessage{raw}}, nil
}

// validateAction checks one raw action against the grammar. Returns the typed
// action, or a non-empty warning describing why it was dropped.
func validateAction(raw json.RawMessage) (Action, string) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Sprintf("action is not an object: %v", err)
	}
	kind, _ := generic["action"].(string)
	if kind == "" {
		return nil, "action missing required 'action' key"
	}
	schema, ok := actionSchemas[kind]
	if !ok {
		return nil, fmt.Sprintf("unknown action type %q", kind)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Sprintf("invalid %s action: %v", kind, err)
	}

	switch kind {
	case "send_message":
		var a SendMessage
		_ = json.Unmarshal(raw, &a)
		return a, ""
	case "broadcast":
		var a Broadcast
		_ = json.Unmarshal(raw, &a)
		return a, ""
	case "send_information":
		var a SendInformation
		// The schema admits numbers like 42.0 as "integer"; the typed decode
		// does not, and a half-decoded values map must not reach the ledger.
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Sprintf("invalid send_information action: %v", err)
		}
		return a, ""
	case "submit_task":
		var a SubmitTask
		_ = json.Unmarshal(raw, &a)
		return a, ""
	case "submit_report":
		var a SubmitReport
		_ = json.Unmarshal(raw, &a)
		return a, ""
	}
	return nil, fmt.Sprintf("unknown action type %q", kind)
}

// actionEnvelope serializes an action for the agent_action event, restoring
// the "action" discriminator the typed structs drop.
func actionEnvelope(a Action) map[string]any {
	b, _ := json.Marshal(a)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if m == nil {
		m = map[string]any{}
	}
	m["action"] = a.Kind()
	return m
}
