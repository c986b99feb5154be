package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/codekeeper/crawler/internal/model"
)

// issueSchema describes the shape of one Issue as returned by an
// external Review Client. Decoders validate against it at the boundary
// (Design Note §9: "Dynamic typing of Issue/Candidate... decoders
// validate at the Review Client boundary"), grounded on
// standardbeagle-lci's use of google/jsonschema-go to describe its own
// MCP tool payloads.
var issueSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"path":       {Type: "string"},
		"line_start": {Type: "integer", Minimum: ptrFloat(1.0)},
		"kind": {
			Type: "string",
			Enum: []any{"syntax", "style", "security", "performance", "complexity", "unused", "other"},
		},
		"severity": {
			Type: "string",
			Enum: []any{"critical", "high", "medium", "low"},
		},
		"message": {Type: "string"},
	},
	Required: []string{"path", "line_start", "kind", "severity", "message"},
}

func ptrFloat(f float64) *float64 { return &f }

// ValidateIssuePayload decodes and schema-validates one raw JSON Issue
// before it enters the core pipeline, rejecting malformed payloads from
// the external Review Client without panicking across the boundary.
func ValidateIssuePayload(raw json.RawMessage) (model.Issue, error) {
	resolved, err := issueSchema.Resolve(nil)
	if err != nil {
		return model.Issue{}, fmt.Errorf("resolving issue schema: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return model.Issue{}, fmt.Errorf("%w: invalid issue JSON: %v", model.ErrTransientExternal, err)
	}
	if err := resolved.Validate(generic); err != nil {
		return model.Issue{}, fmt.Errorf("%w: issue failed schema validation: %v", model.ErrTransientExternal, err)
	}
	var issue model.Issue
	if err := json.Unmarshal(raw, &issue); err != nil {
		return model.Issue{}, fmt.Errorf("%w: decoding issue: %v", model.ErrTransientExternal, err)
	}
	if err := issue.Validate(); err != nil {
		return model.Issue{}, fmt.Errorf("%w: %v", model.ErrTransientExternal, err)
	}
	return issue, nil
}
