package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/tabflow/pkg/schema"
)

const schemaBaseURL = "https://tabflow.dev/schemas/"

const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "id": { "type": "string" },
    "title": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "strategy": { "enum": ["sequential", "parallel", "hybrid"] },
    "status": { "enum": ["draft", "ready", "executing", "completed", "partial", "failed"] },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"
    },
    "step": {
      "type": "object",
      "required": ["id", "action"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "action": { "type": "string", "minLength": 1 },
        "target": { "type": "string" },
        "params": { "type": "object" },
        "depends_on": { "type": "array", "items": { "type": "string" } },
        "shadow": { "type": "boolean" },
        "on_error": { "enum": ["retry", "skip", "fail"] },
        "retry": { "$ref": "#/$defs/retry" },
        "timeout": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "properties": {
        "max": { "type": "integer", "minimum": 0 },
        "backoff": { "enum": ["none", "constant", "linear", "exponential"] },
        "delay": { "$ref": "#/$defs/duration" },
        "max_delay": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    }
  }
}`

// paramSchemas constrain the params each built-in action reads. Extra keys
// are allowed; connectors receive the whole map.
var paramSchemas = map[schema.ActionType]string{
	schema.ActionNavigate: `{
  "type": "object",
  "properties": {
    "url": { "type": "string" },
    "tab_id": { "type": "string" },
    "new_tab": { "type": "boolean" }
  }
}`,
	schema.ActionSearch: `{
  "type": "object",
  "properties": {
    "query": { "type": "string" },
    "limit": { "type": ["integer", "string"] }
  }
}`,
	schema.ActionExtract: `{
  "type": "object",
  "properties": {
    "selector": { "type": "string" },
    "tab_id": { "type": "string" }
  }
}`,
	schema.ActionAnalyze: `{
  "type": "object",
  "properties": {
    "engine": { "enum": ["cel", "expr", "jq", "llm"] },
    "expression": { "type": "string" },
    "prompt": { "type": "string" }
  }
}`,
	schema.ActionReport: `{
  "type": "object",
  "properties": {
    "format": { "enum": ["markdown", "md", "json", "yaml", "yml"] },
    "title": { "type": "string" },
    "include": { "type": "array", "items": { "type": "string" } }
  }
}`,
	schema.ActionIntegrate: `{
  "type": "object",
  "properties": {
    "connector": { "type": "string" },
    "action": { "type": "string" }
  }
}`,
}

// SchemaValidator checks workflow documents and step params against
// JSON Schema Draft 2020-12. Schemas are compiled once; it is safe for
// concurrent use.
type SchemaValidator struct {
	workflow *jsonschema.Schema
	params   map[schema.ActionType]*jsonschema.Schema
}

func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	wf, err := compile(c, schemaBaseURL+"workflow.json", workflowSchemaJSON)
	if err != nil {
		return nil, err
	}
	v := &SchemaValidator{workflow: wf, params: make(map[schema.ActionType]*jsonschema.Schema, len(paramSchemas))}
	for action, src := range paramSchemas {
		s, err := compile(c, schemaBaseURL+"params/"+string(action)+".json", src)
		if err != nil {
			return nil, err
		}
		v.params[action] = s
	}
	return v, nil
}

func compile(c *jsonschema.Compiler, url, src string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return s, nil
}

// ValidateDocument checks a decoded workflow document (JSON or YAML).
func (v *SchemaValidator) ValidateDocument(doc any) *Result {
	r := &Result{}
	inst, err := toJSONValue(doc)
	if err != nil {
		r.addError("/", schema.ErrCodeValidation, "workflow document is not JSON-compatible: "+err.Error())
		return r
	}
	if err := v.workflow.Validate(inst); err != nil {
		addViolations(r, "", err)
	}
	return r
}

// ValidateWorkflow checks an already-decoded workflow.
func (v *SchemaValidator) ValidateWorkflow(wf *schema.Workflow) *Result {
	if wf == nil {
		r := &Result{}
		r.addError("/", schema.ErrCodeValidation, "workflow is nil")
		return r
	}
	return v.ValidateDocument(wf)
}

// ValidateParams checks a step's params against its action's schema.
// Actions without a schema accept any params.
func (v *SchemaValidator) ValidateParams(path string, action schema.ActionType, params map[string]any) *Result {
	r := &Result{}
	s, ok := v.params[action]
	if !ok || len(params) == 0 {
		return r
	}
	inst, err := toJSONValue(params)
	if err != nil {
		r.addError(path, schema.ErrCodeValidation, "params are not JSON-compatible: "+err.Error())
		return r
	}
	if err := s.Validate(inst); err != nil {
		addViolations(r, path, err)
	}
	return r
}

// toJSONValue round-trips through encoding/json so numbers become
// json.Number, which the schema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// addViolations records one issue per leaf of the validation error tree.
func addViolations(r *Result, prefix string, err error) {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		r.addError(prefix+"/", schema.ErrCodeValidation, err.Error())
		return
	}
	walkViolations(r, prefix, verr)
}

func walkViolations(r *Result, prefix string, verr *jsonschema.ValidationError) {
	if len(verr.Causes) == 0 {
		r.addError(prefix+"/"+strings.Join(verr.InstanceLocation, "/"), schema.ErrCodeValidation, verr.Error())
		return
	}
	for _, cause := range verr.Causes {
		walkViolations(r, prefix, cause)
	}
}
