package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// unknownParams returns the sorted top-level keys of args that the tool's
// schema does not declare. Non-object arguments yield nil.
func unknownParams(args json.RawMessage, known []string) []string {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(args, &m); err != nil {
		return nil
	}
	var extra []string
	for k := range m {
		if !slices.Contains(known, k) {
			extra = append(extra, k)
		}
	}
	slices.Sort(extra)
	return extra
}

// schemaKeys lists the top-level property names of a reflected schema.
func schemaKeys(schema map[string]interface{}) []string {
	props, _ := schema["properties"].(map[string]interface{})
	return slices.Sorted(maps.Keys(props))
}

// decodeArgs unmarshals tool arguments into T and validates them. Unknown
// keys are logged and ignored.
func decodeArgs[T any](ec *ExecutionContext, spec toolSpec, raw json.RawMessage) (T, error) {
	var args T
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if extra := unknownParams(raw, spec.keys); len(extra) > 0 {
		ec.logger().Warn("ignoring unknown tool parameters", "tool", spec.name, "params", extra)
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, NewToolErrorf(ErrInvalidParams, "invalid arguments: %v", err)
	}
	if err := validate.Struct(&args); err != nil {
		return args, NewToolError(ErrInvalidParams, describeValidation(err))
	}
	return args, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", ")))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// toolSpec is the name and schema shared by a tool's Spec and argument
// decoding.
type toolSpec struct {
	name        string
	description string
	schema      map[string]interface{}
	keys        []string
}

func newToolSpec[T any](name, description string) toolSpec {
	schema := Schema[T]()
	return toolSpec{name: name, description: description, schema: schema, keys: schemaKeys(schema)}
}
