package task

import (
	"testing"

	"tokenforge/pkg/token"
)

func TestNewPipelineTask(t *testing.T) {
	pt := NewPipelineTask("shots/home.png", token.TypeColor, token.TypeSpacing)

	if pt.TaskID == "" {
		t.Error("Expected generated task ID")
	}
	if pt.ImageRef != "shots/home.png" {
		t.Errorf("Expected image_ref shots/home.png, got %s", pt.ImageRef)
	}
	if pt.Priority != PriorityNormal {
		t.Errorf("Expected default priority %d, got %d", PriorityNormal, pt.Priority)
	}
	if err := pt.Validate(); err != nil {
		t.Errorf("Fresh task should validate: %v", err)
	}
}

func TestTaskIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		pt := NewPipelineTask("img.png")
		if seen[pt.TaskID] {
			t.Fatalf("Duplicate task ID: %s", pt.TaskID)
		}
		seen[pt.TaskID] = true
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PipelineTask)
		wantErr bool
	}{
		{"valid", func(_ *PipelineTask) {}, false},
		{"missing image_ref", func(pt *PipelineTask) { pt.ImageRef = "" }, true},
		{"missing task ID", func(pt *PipelineTask) { pt.TaskID = "" }, true},
		{"bad token type", func(pt *PipelineTask) { pt.TokenTypes = []token.Type{"gradient"} }, true},
		{"priority too high", func(pt *PipelineTask) { pt.Priority = 42 }, true},
		{"priority negative", func(pt *PipelineTask) { pt.Priority = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt := NewPipelineTask("img.png", token.TypeColor)
			tt.mutate(pt)
			err := pt.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}

func TestWantsType(t *testing.T) {
	all := NewPipelineTask("img.png")
	for _, typ := range token.AllTypes() {
		if !all.WantsType(typ) {
			t.Errorf("Task with no explicit types should want %s", typ)
		}
	}

	scoped := NewPipelineTask("img.png", token.TypeColor)
	if !scoped.WantsType(token.TypeColor) {
		t.Error("Expected scoped task to want color")
	}
	if scoped.WantsType(token.TypeShadow) {
		t.Error("Expected scoped task to not want shadow")
	}
}

func TestCloneIsDeep(t *testing.T) {
	pt := NewPipelineTask("img.png", token.TypeColor)
	pt.SetMetadata(KeySubmitter, "ci")

	clone := pt.Clone()
	clone.SetMetadata(KeySubmitter, "manual")
	clone.TokenTypes[0] = token.TypeShadow

	if v, _ := pt.GetMetadata(KeySubmitter); v != "ci" {
		t.Errorf("Clone mutation leaked into original metadata: %s", v)
	}
	if pt.TokenTypes[0] != token.TypeColor {
		t.Error("Clone mutation leaked into original token types")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	pt := NewPipelineTask("img.png", token.TypeTypography)
	pt.Priority = PriorityHigh
	pt.SetMetadata(KeyBatchLabel, "homepage-redesign")

	data, err := pt.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	got, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.TaskID != pt.TaskID || got.Priority != PriorityHigh {
		t.Errorf("Round trip lost fields: %+v", got)
	}
	if v, _ := got.GetMetadata(KeyBatchLabel); v != "homepage-redesign" {
		t.Errorf("Round trip lost metadata: %+v", got.Metadata)
	}
}
