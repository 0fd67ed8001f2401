package questionnaire

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Fixture is a self-contained sequencing input, used by tooling to preview a
// layout without a backend.
type Fixture struct {
	Steps             []Step               `json:"steps"`
	Structure         *GlobalFormStructure `json:"formStructure,omitempty"`
	ProgramOrder      ProgramFormStepOrder `json:"programFormStepOrder,omitempty"`
	Standardized      []Step               `json:"standardizedSteps,omitempty"`
	StandardizedFirst bool                 `json:"standardizedFirst,omitempty"`
	Program           bool                 `json:"program,omitempty"`
	Variables         Variables            `json:"variables,omitempty"`
}

// Input converts the fixture into a SequenceInput.
func (f *Fixture) Input() SequenceInput {
	return SequenceInput{
		Steps:             f.Steps,
		Structure:         f.Structure,
		ProgramOrder:      f.ProgramOrder,
		Standardized:      f.Standardized,
		StandardizedFirst: f.StandardizedFirst,
		Program:           f.Program || len(f.ProgramOrder) > 0,
	}
}

// DecodeFixture reads a fixture written in JSON or YAML. YAML documents are
// routed through JSON so both formats share the same field names.
func DecodeFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := json.Unmarshal(data, &f); err == nil {
		return &f, nil
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &f, nil
}
