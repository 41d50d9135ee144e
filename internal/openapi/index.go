// Package openapi loads an OpenAPI 3.0 document and serves it as an
// OperationIndex: operations addressable by operationId or by path+method,
// with $ref/allOf resolution handled once at load time.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// ParamLocation mirrors the OpenAPI "in" field.
type ParamLocation string

const (
	InPath   ParamLocation = "path"
	InQuery  ParamLocation = "query"
	InHeader ParamLocation = "header"
	InCookie ParamLocation = "cookie"
)

// ParameterInfo is one parameter of an operation.
type ParameterInfo struct {
	Name     string
	In       ParamLocation
	Required bool
	Schema   *openapi3.Schema
}

// RequestBodyInfo describes the operation's request body, if any.
type RequestBodyInfo struct {
	Required bool
	Schema   *openapi3.Schema
}

// OperationInfo is the $ref-resolved view of one OpenAPI operation, keyed
// by operationId and by (method, path). The index hands out copies made by
// clone, which share schemas with the index.
type OperationInfo struct {
	OperationID string
	Method      string
	Path        string
	Summary     string
	Description string
	Parameters  []ParameterInfo
	RequestBody *RequestBodyInfo
}

// clone returns a copy whose OperationInfo fields and Parameters slice
// callers may mutate freely without affecting the index; the RequestBodyInfo
// and the *openapi3.Schema values referenced by Parameters/RequestBody are
// shared, not copied, since no
// caller mutates a schema body in place.
func (o *OperationInfo) clone() *OperationInfo {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Parameters = make([]ParameterInfo, len(o.Parameters))
	copy(cp.Parameters, o.Parameters)
	return &cp
}

// SecurityScheme is the collapsed view of the document's primary security
// requirement: either a bearer or apiKey scheme, or none.
type SecurityScheme struct {
	Type string // "bearer", "apiKey", or "" for none
	Name string // header/query/cookie name, for apiKey
	In   string // "header", "query", "cookie", for apiKey
}

// OperationIndex serves OperationInfo by operationId and by path+method,
// per component C1.
type OperationIndex struct {
	byID   map[string]*OperationInfo
	byPath map[string]map[string]*OperationInfo
	all    []*OperationInfo
	scheme SecurityScheme
	base   string
}

// Load parses the document at path and builds the index. $ref and allOf
// composition are resolved by kin-openapi at load time; cyclic schemas are
// tolerated (kin-openapi marks them internally and we never walk schema
// graphs beyond one level for parameter/body typing).
func Load(ctx context.Context, path string) (*OperationIndex, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("openapi: failed to load %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("openapi: invalid document %s: %w", path, err)
	}

	idx := &OperationIndex{
		byID:   make(map[string]*OperationInfo),
		byPath: make(map[string]map[string]*OperationInfo),
	}
	idx.base = baseURL(doc)
	idx.scheme = securityScheme(doc)

	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			info := &OperationInfo{
				OperationID: op.OperationID,
				Method:      strings.ToUpper(method),
				Path:        path,
				Summary:     op.Summary,
				Description: op.Description,
			}
			for _, pref := range op.Parameters {
				if pref.Value == nil {
					continue
				}
				p := pref.Value
				var schema *openapi3.Schema
				if p.Schema != nil {
					schema = p.Schema.Value
				}
				info.Parameters = append(info.Parameters, ParameterInfo{
					Name:     p.Name,
					In:       ParamLocation(p.In),
					Required: p.Required,
					Schema:   schema,
				})
			}
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				rb := op.RequestBody.Value
				var schema *openapi3.Schema
				if media := rb.Content.Get("application/json"); media != nil && media.Schema != nil {
					schema = media.Schema.Value
				}
				info.RequestBody = &RequestBodyInfo{Required: rb.Required, Schema: schema}
			}

			idx.byID[info.OperationID] = info
			if idx.byPath[path] == nil {
				idx.byPath[path] = make(map[string]*OperationInfo)
			}
			idx.byPath[path][info.Method] = info
			idx.all = append(idx.all, info)
		}
	}

	sort.Slice(idx.all, func(i, j int) bool { return idx.all[i].OperationID < idx.all[j].OperationID })

	return idx, nil
}

// GetOperation returns a copy (see clone) of the operation named id, if any.
func (idx *OperationIndex) GetOperation(id string) (*OperationInfo, bool) {
	op, ok := idx.byID[id]
	if !ok {
		return nil, false
	}
	return op.clone(), true
}

// GetPath returns the method->OperationInfo map registered for path.
func (idx *OperationIndex) GetPath(path string) (map[string]*OperationInfo, bool) {
	byMethod, ok := idx.byPath[path]
	if !ok {
		return nil, false
	}
	out := make(map[string]*OperationInfo, len(byMethod))
	for m, op := range byMethod {
		out[m] = op.clone()
	}
	return out, true
}

// GetAllOperations returns a copy (see clone) of every indexed operation,
// stable-sorted by operationId.
func (idx *OperationIndex) GetAllOperations() []*OperationInfo {
	out := make([]*OperationInfo, len(idx.all))
	for i, op := range idx.all {
		out[i] = op.clone()
	}
	return out
}

// GetSecurityScheme returns the document's collapsed primary security scheme.
func (idx *OperationIndex) GetSecurityScheme() SecurityScheme {
	return idx.scheme
}

// GetBaseUrl returns the first server URL declared by the document, or "".
func (idx *OperationIndex) GetBaseUrl() string {
	return idx.base
}

func baseURL(doc *openapi3.T) string {
	if len(doc.Servers) == 0 {
		return ""
	}
	return strings.TrimRight(doc.Servers[0].URL, "/")
}

func securityScheme(doc *openapi3.T) SecurityScheme {
	if doc.Components == nil || len(doc.Components.SecuritySchemes) == 0 {
		return SecurityScheme{}
	}
	// Prefer a scheme actually referenced by the top-level security requirement.
	var names []string
	for _, req := range doc.Security {
		for name := range req {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		for name := range doc.Components.SecuritySchemes {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		ref, ok := doc.Components.SecuritySchemes[name]
		if !ok || ref.Value == nil {
			continue
		}
		s := ref.Value
		switch s.Type {
		case "http":
			if strings.EqualFold(s.Scheme, "bearer") {
				return SecurityScheme{Type: "bearer"}
			}
		case "apiKey":
			return SecurityScheme{Type: "apiKey", Name: s.Name, In: s.In}
		}
	}
	return SecurityScheme{}
}
