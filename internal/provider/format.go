package provider

import "fmt"

// Tool definition formats understood by FormatTools.
const (
	FormatAnthropic = "anthropic"
	FormatOpenAI    = "openai"
)

// FormatTools converts neutral tool definitions into the wire shape of the
// given provider format. The Anthropic shape is {name, description,
// input_schema}; the OpenAI shape wraps the same fields under
// {type:"function", function:{...}}.
func FormatTools(format string, tools []ToolDefinition) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}, "required": []string{}}
		}
		switch format {
		case FormatAnthropic:
			out = append(out, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schema,
			})
		case FormatOpenAI:
			out = append(out, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  schema,
				},
			})
		default:
			return nil, fmt.Errorf("unknown tool format: %s", format)
		}
	}
	return out, nil
}
