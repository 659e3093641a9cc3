package core

import (
	"encoding/json"
	"strings"
)

// ActionKind is the closed set of intents a model reply can express.
type ActionKind int

const (
	// ActionNone means no JSON directive was found; the raw text is an
	// implicit final answer.
	ActionNone ActionKind = iota
	ActionSearch
	ActionPlan
	ActionAnswer
	// ActionUnknown is recognized JSON whose action value is outside the
	// vocabulary; treated as an intermediate step, never a final answer.
	ActionUnknown
)

func (k ActionKind) String() string {
	switch k {
	case ActionSearch:
		return "search"
	case ActionPlan:
		return "plan"
	case ActionAnswer:
		return "answer"
	case ActionUnknown:
		return "unknown"
	default:
		return "none"
	}
}

// TodoItem is one entry of a model-proposed plan.
type TodoItem struct {
	Task   string `json:"task"`
	Status string `json:"status"`
}

// Directive is the parsed intent of one provider reply. At most one directive
// is active per reply: when several JSON fragments are present, search wins
// over plan, which wins over any other recognized action.
type Directive struct {
	Kind    ActionKind
	Thought string
	Todo    []TodoItem
	Query   string // set when Kind == ActionSearch
	Content string // set when Kind == ActionAnswer or ActionNone
}

// ParseDirective extracts the machine-actionable intent from a raw model
// reply. fallbackQuery fills a search directive whose query field is absent.
// The function never fails: undecodable input degrades to ActionNone with the
// trimmed text as implicit answer.
func ParseDirective(raw, fallbackQuery string) Directive {
	candidates := scanJSONObjects(raw)

	var decoded []map[string]interface{}
	for _, c := range candidates {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(c), &m); err == nil {
			decoded = append(decoded, m)
		}
	}
	if len(decoded) == 0 {
		return Directive{Kind: ActionNone, Content: strings.TrimSpace(raw)}
	}

	selected := decoded[0]
	for _, m := range decoded {
		if actionOf(m) == "search" {
			selected = m
			break
		}
	}
	if actionOf(selected) != "search" {
		for _, m := range decoded {
			if actionOf(m) == "plan" {
				selected = m
				break
			}
		}
	}

	d := Directive{
		Thought: str(selected["thought"]),
		Todo:    todoList(selected),
	}
	switch actionOf(selected) {
	case "search":
		d.Kind = ActionSearch
		d.Query = strings.TrimSpace(str(selected["query"]))
		if d.Query == "" {
			d.Query = fallbackQuery
		}
	case "plan":
		d.Kind = ActionPlan
	case "answer":
		d.Kind = ActionAnswer
		d.Content = strings.TrimSpace(str(selected["content"]))
	default:
		d.Kind = ActionUnknown
	}
	return d
}

// scanJSONObjects returns the balanced brace-delimited spans of s, shortest
// first at each opening: the model is prompted to emit single flat objects,
// so nested-aware scanning over quoted strings is sufficient.
func scanJSONObjects(s string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

func actionOf(m map[string]interface{}) string {
	return strings.ToLower(strings.TrimSpace(str(m["action"])))
}

// todoList reads a todo or todo_list key, first match wins. Items may be
// plain strings or {task, status} objects; untagged items default to pending.
func todoList(m map[string]interface{}) []TodoItem {
	var raw interface{}
	for _, key := range []string{"todo", "todo_list"} {
		if v, ok := m[key]; ok {
			raw = v
			break
		}
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	var out []TodoItem
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				out = append(out, TodoItem{Task: v, Status: "pending"})
			}
		case map[string]interface{}:
			task := str(v["task"])
			if task == "" {
				task = str(v["description"])
			}
			if strings.TrimSpace(task) == "" {
				continue
			}
			status := str(v["status"])
			if status == "" {
				status = "pending"
			}
			out = append(out, TodoItem{Task: task, Status: status})
		}
	}
	return out
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
