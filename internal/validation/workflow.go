package validation

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rendis/tabflow/pkg/schema"
)

// WorkflowValidator runs the validation pipeline:
//  1. structural (JSON Schema, including per-action params)
//  2. semantic (references, action inputs, connectors, timing)
//  3. graph (the scheduler's parse plus the resulting plan)
//
// A failing stage stops the pipeline.
type WorkflowValidator struct {
	schemas    *SchemaValidator
	connectors ConnectorLookup
}

// NewWorkflowValidator creates a WorkflowValidator. connectors may be nil
// to skip connector existence checks.
func NewWorkflowValidator(connectors ConnectorLookup) (*WorkflowValidator, error) {
	sv, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{schemas: sv, connectors: connectors}, nil
}

// Validate checks wf and, when valid, records its execution plan.
func (wv *WorkflowValidator) Validate(wf *schema.Workflow) *Result {
	result := wv.schemas.ValidateWorkflow(wf)
	if !result.Valid() {
		return result
	}
	for i, s := range wf.Steps {
		result.merge(wv.schemas.ValidateParams(fmt.Sprintf("steps[%d].params", i), s.Action, s.Params))
	}
	if !result.Valid() {
		return result
	}

	result.merge(validateSemantic(wf, wv.connectors))
	if !result.Valid() {
		return result
	}

	graph, plan := validateDAG(wf)
	result.merge(graph)
	if result.Valid() {
		result.Plan = plan
	}
	return result
}

// ValidateWorkflow returns the pipeline outcome as an error.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) error {
	return wv.Validate(wf).Err()
}

// Load parses a YAML or JSON workflow file, checks the raw document so
// unknown fields are caught, then decodes and validates the workflow.
// The workflow is returned whenever it decoded, even if invalid.
func (wv *WorkflowValidator) Load(data []byte) (*schema.Workflow, *Result, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		fe := schema.NewError(schema.ErrCodeValidation, "parse workflow: "+err.Error()).WithCause(err)
		return nil, nil, fe
	}
	result := wv.schemas.ValidateDocument(doc)
	if !result.Valid() {
		return nil, result, result.Err()
	}

	var wf schema.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		fe := schema.NewError(schema.ErrCodeValidation, "decode workflow: "+err.Error()).WithCause(err)
		return nil, result, fe
	}
	result = wv.Validate(&wf)
	return &wf, result, result.Err()
}
