package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/speechgate/speechgate/pkg/gateway/store"
)

const (
	ToolCurrentTime  = "get_current_time"
	ToolWeather      = "get_weather"
	ToolSearchMemory = "search_memory"
)

// CurrentTime reports the wall clock.
type CurrentTime struct {
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

func (t *CurrentTime) Name() string { return ToolCurrentTime }

func (t *CurrentTime) Definition() Definition {
	return Definition{
		Name:        ToolCurrentTime,
		Description: "Returns the current date and time.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (t *CurrentTime) Execute(ctx context.Context, input map[string]any) (string, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	return fmt.Sprintf("Current time is %s.", now().Format("2006-01-02 15:04:05")), nil
}

// Weather is a placeholder weather lookup. It answers with canned data so
// tool-calling can be exercised without an external API.
type Weather struct{}

func (t *Weather) Name() string { return ToolWeather }

func (t *Weather) Definition() Definition {
	return Definition{
		Name:        ToolWeather,
		Description: "Get the current weather in a given location.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{"type": "string"},
			},
			"required": []string{"location"},
		},
	}
}

func (t *Weather) Execute(ctx context.Context, input map[string]any) (string, error) {
	location, _ := input["location"].(string)
	location = strings.TrimSpace(location)
	if location == "" {
		return "", fmt.Errorf("get_weather: location is required")
	}
	return fmt.Sprintf("The weather in %s is currently sunny and 22°C (mock data).", location), nil
}

// MemoryReader is the slice of the session store SearchMemory needs.
type MemoryReader interface {
	Get(ctx context.Context, id string) (*store.Session, error)
}

// SearchMemory scans the session transcript for messages containing the
// query. The session id is injected into the input by the orchestrator, not
// chosen by the model.
type SearchMemory struct {
	Store MemoryReader
}

func (t *SearchMemory) Name() string { return ToolSearchMemory }

func (t *SearchMemory) Definition() Definition {
	return Definition{
		Name:        ToolSearchMemory,
		Description: "Search for relevant information from past conversations in this session.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
	}
}

func (t *SearchMemory) Execute(ctx context.Context, input map[string]any) (string, error) {
	query, _ := input["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("search_memory: query is required")
	}
	sessionID, _ := input["session_id"].(string)
	if sessionID == "" || t.Store == nil {
		return "No past conversation available.", nil
	}

	sess, err := t.Store.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("search_memory: %w", err)
	}

	needle := strings.ToLower(query)
	var hits []string
	for _, msg := range sess.Memory.Messages {
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			hits = append(hits, fmt.Sprintf("[%s] %s", msg.Role, msg.Content))
		}
	}
	if len(hits) == 0 {
		return fmt.Sprintf("No past messages matched %q.", query), nil
	}
	return "Found related past info:\n" + strings.Join(hits, "\n"), nil
}

// Builtins returns the fixed tool set in its default wiring.
func Builtins(memory MemoryReader) []Executor {
	return []Executor{
		&CurrentTime{},
		&Weather{},
		&SearchMemory{Store: memory},
	}
}
