package llm

import (
	"testing"
)

func TestExtractJSON_PlainObject(t *testing.T) {
	input := `{"name": "test", "value": 123}`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != input {
		t.Errorf("expected %q, got %q", input, result)
	}
}

func TestExtractJSON_PlainArray(t *testing.T) {
	input := `[{"left_column": "emp_id"}, {"left_column": "dept_id"}]`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != input {
		t.Errorf("expected %q, got %q", input, result)
	}
}

func TestExtractJSON_NestedObject(t *testing.T) {
	input := `{"joins": [{"sample_matches": [{"left": "1", "right": "1"}]}]}`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != input {
		t.Errorf("expected %q, got %q", input, result)
	}
}

func TestExtractJSON_WithThinkTags(t *testing.T) {
	input := `<think>
The two files share an employee identifier.
</think>
{"name": "test", "value": 123}`

	expected := `{"name": "test", "value": 123}`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestExtractJSON_WithMarkdownCodeBlock(t *testing.T) {
	input := "Here is the analysis:\n```json\n{\"joins\": []}\n```"

	expected := `{"joins": []}`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestExtractJSON_WithTextAroundJSON(t *testing.T) {
	input := `The suggested joins are:
{"joins": [{"left_column": "emp_id", "right_column": "employee_id"}]}
Let me know if you need anything else.`

	expected := `{"joins": [{"left_column": "emp_id", "right_column": "employee_id"}]}`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	input := `{"reasoning": "matches the pattern {id}", "confidence": 0.9}`
	result, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != input {
		t.Errorf("expected %q, got %q", input, result)
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	_, err := ExtractJSON("I could not determine any joins.")
	if err == nil {
		t.Fatal("expected error for response with no JSON")
	}
}

func TestParseJSONResponse(t *testing.T) {
	type suggestion struct {
		LeftColumn string  `json:"left_column"`
		Confidence float64 `json:"confidence"`
	}

	input := `<think>ok</think>{"left_column": "emp_id", "confidence": 0.85}`
	result, err := ParseJSONResponse[suggestion](input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.LeftColumn != "emp_id" {
		t.Errorf("expected emp_id, got %q", result.LeftColumn)
	}
	if result.Confidence != 0.85 {
		t.Errorf("expected 0.85, got %v", result.Confidence)
	}
}
