package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/kidsclubplans/kcp/internal/llm"
)

// Schema reflects the parameter schema for an argument struct. Fields are
// required only when tagged `jsonschema:"required"`.
//
// Descriptions in jsonschema tags cannot contain commas.
func Schema[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	data, err := json.Marshal(reflector.Reflect(&v))
	if err != nil {
		panic(fmt.Sprintf("tools: reflect schema for %T: %v", v, err))
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("tools: decode schema for %T: %v", v, err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]interface{}{}
	}
	return out
}

func (s toolSpec) toLLM() llm.ToolSpec {
	return llm.ToolSpec{Name: s.name, Description: s.description, Schema: s.schema}
}
