package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/reflow/openapi-mcp-gateway/internal/openapi"
	"github.com/rs/zerolog/log"
)

// NameShortener bounds a candidate tool name by a configured maximum length,
// collapsing overflow into a deterministic, collision-resistant form. It is
// an external collaborator per spec §4.3 ("a pluggable shortening
// strategy"); DefaultShortener below is the one shipped with the gateway.
type NameShortener interface {
	Shorten(name string, maxLength int) string
}

// DefaultShortener truncates to maxLength-9 characters and appends "_"
// plus the first 8 hex characters of the full name's SHA-256, so names
// that share a truncated prefix are told apart by the digest and the
// result is stable across restarts.
type DefaultShortener struct{}

func (DefaultShortener) Shorten(name string, maxLength int) string {
	if len(name) <= maxLength {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	keep := maxLength - len(suffix)
	if keep < 1 {
		keep = 1
	}
	if keep > len(name) {
		keep = len(name)
	}
	return name[:keep] + suffix
}

// AutogenOptions bounds the default-profile synthesis.
type AutogenOptions struct {
	MaxNameLength int
	WarnThreshold int
	Shortener     NameShortener
}

// DefaultAutogenOptions mirrors the MCP ecosystem's common 64-char tool-name
// ceiling, warning well before truncation kicks in.
func DefaultAutogenOptions() AutogenOptions {
	return AutogenOptions{MaxNameLength: 64, WarnThreshold: 48, Shortener: DefaultShortener{}}
}

// Autogenerate synthesizes one simple Tool per OperationInfo when no
// profile file is supplied, per spec §4.3.
func Autogenerate(ops []*openapi.OperationInfo, opts AutogenOptions) *Profile {
	if opts.Shortener == nil {
		opts.Shortener = DefaultShortener{}
	}
	if opts.MaxNameLength == 0 {
		opts.MaxNameLength = DefaultAutogenOptions().MaxNameLength
	}

	p := &Profile{ProfileName: "default", Tools: make([]Tool, 0, len(ops))}

	for _, op := range ops {
		name := op.OperationID
		if opts.WarnThreshold > 0 && len(name) > opts.WarnThreshold {
			log.Warn().Str("operation_id", op.OperationID).Int("length", len(name)).
				Msg("operation id approaches tool-name length limit")
		}
		shortName := opts.Shortener.Shorten(name, opts.MaxNameLength)

		params := make(map[string]ParameterSpec, len(op.Parameters))
		for _, param := range op.Parameters {
			if param.In != openapi.InPath && param.In != openapi.InQuery {
				continue
			}
			params[param.Name] = ParameterSpec{
				Type:     paramTypeFromSchema(param.Schema),
				Required: param.Required,
			}
		}
		if op.RequestBody != nil {
			params["body"] = ParameterSpec{Type: TypeObject, Required: op.RequestBody.Required}
		}

		p.Tools = append(p.Tools, Tool{
			Name:        shortName,
			Description: describeOperation(op),
			Parameters:  params,
			Operations:  map[string]string{"call": op.OperationID},
		})
	}

	return p
}

func describeOperation(op *openapi.OperationInfo) string {
	if op.Summary != "" {
		return op.Summary
	}
	if op.Description != "" {
		return op.Description
	}
	return fmt.Sprintf("%s %s", op.Method, op.Path)
}

func paramTypeFromSchema(schema *openapi3.Schema) ParameterType {
	if schema == nil || schema.Type == nil {
		return TypeString
	}
	switch {
	case schema.Type.Is("integer"):
		return TypeInteger
	case schema.Type.Is("number"):
		return TypeNumber
	case schema.Type.Is("boolean"):
		return TypeBoolean
	case schema.Type.Is("array"):
		return TypeArray
	case schema.Type.Is("object"):
		return TypeObject
	default:
		return TypeString
	}
}
