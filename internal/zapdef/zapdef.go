// Package zapdef loads zap definition files.
//
// A definition is CUE or YAML with a single top-level "zap" field:
//
//	zap: {
//		user: "user-1"
//		name: "Welcome mail"
//		trigger: type: "webhook"
//		actions: [{
//			type: "email"
//			metadata: {email: "{email}", body: "Hi {name}"}
//		}]
//	}
//
// Both formats are checked against the same embedded CUE schema.
package zapdef

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/Atif-27/AutoChain/internal/ids"
	"github.com/Atif-27/AutoChain/internal/workflow"
)

//go:embed schema.cue
var schemaSource string

// Definition is a decoded zap definition.
type Definition struct {
	ID      string      `json:"id,omitempty"`
	User    string      `json:"user"`
	Name    string      `json:"name"`
	Trigger TriggerDef  `json:"trigger"`
	Actions []ActionDef `json:"actions"`
}

// TriggerDef is the trigger of a definition.
type TriggerDef struct {
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ActionDef is one action of a definition, in stage order.
type ActionDef struct {
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata"`
}

// DefinitionError reports an invalid definition, with a source position
// when CUE knows one.
type DefinitionError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *DefinitionError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads a definition from path. The format follows the extension:
// .cue, or .yaml/.yml.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read zap definition: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return ParseCUE(path, data)
	case ".yaml", ".yml":
		return ParseYAML(path, data)
	default:
		return Definition{}, &DefinitionError{Field: "file", Message: fmt.Sprintf("unsupported extension %q (want .cue, .yaml or .yml)", filepath.Ext(path))}
	}
}

// ParseCUE parses CUE source. filename is used in error positions.
func ParseCUE(filename string, src []byte) (Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Definition{}, formatCUEError(err)
	}
	return decode(ctx, v)
}

// ParseYAML parses YAML source. filename is used in error messages.
func ParseYAML(filename string, src []byte) (Definition, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return Definition{}, &DefinitionError{Field: "yaml", Message: fmt.Sprintf("%s: %v", filename, err)}
	}
	ctx := cuecontext.New()
	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return Definition{}, formatCUEError(err)
	}
	return decode(ctx, v)
}

func decode(ctx *cue.Context, v cue.Value) (Definition, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Definition{}, fmt.Errorf("compile zap schema: %w", err)
	}

	if !v.LookupPath(cue.ParsePath("zap")).Exists() {
		return Definition{}, &DefinitionError{Field: "zap", Message: "missing top-level zap field", Pos: v.Pos()}
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Definition{}, formatCUEError(err)
	}

	var def Definition
	if err := unified.LookupPath(cue.ParsePath("zap")).Decode(&def); err != nil {
		return Definition{}, formatCUEError(err)
	}
	return def, nil
}

// ToZap converts def into a zap ready to be stored. The zap id comes from
// the definition when set; trigger and action ids are always generated.
func (def Definition) ToZap(gen ids.Generator) workflow.Zap {
	zapID := def.ID
	if zapID == "" {
		zapID = gen.Generate()
	}
	zap := workflow.Zap{
		ID:     zapID,
		UserID: def.User,
		Name:   def.Name,
		Trigger: workflow.Trigger{
			ID:       gen.Generate(),
			ZapID:    zapID,
			TypeID:   def.Trigger.Type,
			Metadata: def.Trigger.Metadata,
		},
	}
	for i, a := range def.Actions {
		zap.Actions = append(zap.Actions, workflow.Action{
			ID:           gen.Generate(),
			ZapID:        zapID,
			TypeID:       a.Type,
			SortingOrder: i,
			Metadata:     a.Metadata,
		})
	}
	return zap
}

// CheckCatalog verifies every trigger and action type of def is one of the
// catalog ids.
func (def Definition) CheckCatalog(triggers []workflow.AvailableTrigger, actions []workflow.AvailableAction) error {
	knownTriggers := make(map[string]bool, len(triggers))
	for _, t := range triggers {
		knownTriggers[t.ID] = true
	}
	knownActions := make(map[string]bool, len(actions))
	for _, a := range actions {
		knownActions[a.ID] = true
	}

	if !knownTriggers[def.Trigger.Type] {
		return &DefinitionError{Field: "zap.trigger.type", Message: fmt.Sprintf("unknown trigger type %q", def.Trigger.Type)}
	}
	for i, a := range def.Actions {
		if !knownActions[a.Type] {
			return &DefinitionError{Field: fmt.Sprintf("zap.actions.%d.type", i), Message: fmt.Sprintf("unknown action type %q", a.Type)}
		}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &DefinitionError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &DefinitionError{Field: "cue", Message: first.Error()}
}
