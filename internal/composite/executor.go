// Package composite implements the CompositeExecutor (component C5): a
// level-parallel DAG runner over a Tool's declared steps, with partial-
// result semantics.
package composite

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/reflow/openapi-mcp-gateway/internal/errs"
	"github.com/reflow/openapi-mcp-gateway/internal/httpclient"
	"github.com/reflow/openapi-mcp-gateway/internal/openapi"
	"github.com/reflow/openapi-mcp-gateway/internal/profile"
)

var pathParamPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// StepError describes one failed composite step.
type StepError struct {
	StepIndex int       `json:"step_index"`
	StepCall  string    `json:"step_call"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the outcome of running one composite tool's steps.
type Result struct {
	Data           map[string]any `json:"data"`
	CompletedSteps int            `json:"completed_steps"`
	TotalSteps     int            `json:"total_steps"`
	Errors         []StepError    `json:"errors,omitempty"`
}

// Execute runs tool.Steps respecting depends_on, per spec §4.5. args are
// the validated tool-call arguments shared across every step; allowPartial
// mirrors the tool's partial_results flag.
func Execute(ctx context.Context, idx *openapi.OperationIndex, tool *profile.Tool, client httpclient.HttpClient, args map[string]any, allowPartial bool) (*Result, *errs.Error) {
	steps := tool.Steps
	levels, err := levelize(steps)
	if err != nil {
		return nil, err
	}

	result := &Result{Data: make(map[string]any), TotalSteps: len(steps)}
	var mu sync.Mutex
	aborted := false

levelLoop:
	for _, level := range levels {
		var wg sync.WaitGroup
		for _, sw := range level {
			wg.Add(1)
			go func(sw stepWithIndex) {
				defer wg.Done()
				runStep(ctx, idx, tool, client, args, sw, result, &mu)
			}(sw)
		}
		wg.Wait()

		mu.Lock()
		failed := len(result.Errors) > 0 && !allowPartial
		mu.Unlock()
		if failed {
			aborted = true
			break levelLoop
		}
	}

	if aborted {
		last := result.Errors[len(result.Errors)-1]
		return result, errs.Validation(
			fmt.Sprintf("composite aborted: step %d/%d failed: %s", last.StepIndex+1, len(steps), last.Message),
			map[string]any{"failing_step": last.StepIndex})
	}

	return result, nil
}

type stepWithIndex struct {
	profile.CompositeStep
	index int
}

// runStep executes one step and records its outcome into result under mu.
func runStep(ctx context.Context, idx *openapi.OperationIndex, tool *profile.Tool, client httpclient.HttpClient, args map[string]any, sw stepWithIndex, result *Result, mu *sync.Mutex) {
	method, path, parseErr := parseCall(sw.Call)
	if parseErr != nil {
		recordFailure(result, mu, sw, parseErr.Error())
		return
	}

	byMethod, ok := idx.GetPath(path)
	if !ok {
		recordFailure(result, mu, sw, fmt.Sprintf("unknown path %q", path))
		return
	}
	op, ok := byMethod[method]
	if !ok {
		recordFailure(result, mu, sw, fmt.Sprintf("no %s operation registered for path %q", method, path))
		return
	}

	resolvedPath, consumed, verr := resolvePath(op.Path, tool, args)
	if verr != nil {
		recordFailure(result, mu, sw, verr.Error())
		return
	}

	query := make(map[string]any)
	for _, p := range op.Parameters {
		if p.In != openapi.InQuery {
			continue
		}
		if v, ok := args[p.Name]; ok && !consumed[p.Name] {
			query[p.Name] = v
		}
	}

	baseURL := idx.GetBaseUrl()
	req := &httpclient.RequestContext{
		Method:      method,
		URL:         baseURL + resolvedPath,
		Query:       query,
		OperationID: op.OperationID,
		Headers:     make(map[string]string),
	}

	resp, execErr := client.Execute(ctx, req)
	if execErr != nil {
		recordFailure(result, mu, sw, execErr.Error())
		return
	}

	var parsed any
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			parsed = string(resp.Body)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if err := storeAt(result.Data, sw.StoreAs, parsed); err != nil {
		result.Errors = append(result.Errors, StepError{
			StepIndex: sw.index, StepCall: sw.Call, Message: err.Error(), Timestamp: time.Now(),
		})
		return
	}
	result.CompletedSteps++
}

func recordFailure(result *Result, mu *sync.Mutex, sw stepWithIndex, message string) {
	mu.Lock()
	defer mu.Unlock()
	se := StepError{StepIndex: sw.index, StepCall: sw.Call, Message: message, Timestamp: time.Now()}
	result.Errors = append(result.Errors, se)
	_ = storeAt(result.Data, sw.StoreAs+"_error", se)
}

// parseCall parses "METHOD /path/template".
func parseCall(call string) (method, path string, err *errs.Error) {
	fields := strings.Fields(call)
	if len(fields) != 2 {
		return "", "", errs.Validation(fmt.Sprintf("malformed composite step call %q", call), nil)
	}
	return strings.ToUpper(fields[0]), fields[1], nil
}

// resolvePath mirrors reqbuild's path-template resolution (duplicated
// narrowly rather than imported to avoid a reqbuild<->composite cycle,
// since reqbuild has no need to depend on composite).
func resolvePath(template string, tool *profile.Tool, args map[string]any) (string, map[string]bool, *errs.Error) {
	consumed := make(map[string]bool)
	var resolveErr *errs.Error

	path := pathParamPattern.ReplaceAllStringFunc(template, func(match string) string {
		if resolveErr != nil {
			return match
		}
		name := match[1 : len(match)-1]
		if v, ok := args[name]; ok {
			consumed[name] = true
			return fmt.Sprint(v)
		}
		for _, alias := range tool.ParameterAliases[name] {
			if v, ok := args[alias]; ok {
				consumed[alias] = true
				return fmt.Sprint(v)
			}
		}
		resolveErr = errs.Validation(fmt.Sprintf("missing path parameter %q for composite step", name), nil)
		return match
	})

	if resolveErr != nil {
		return "", nil, resolveErr
	}
	return path, consumed, nil
}

// storeAt stores value at the dot path into data, creating intermediate
// objects as needed, per spec §4.5.
func storeAt(data map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	cur := data
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return nil
		}
		next, ok := cur[part]
		if !ok {
			child := make(map[string]any)
			cur[part] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot store at %s: %s is %T, not an object", path, strings.Join(parts[:i+1], "."), next)
		}
		cur = child
	}
	return nil
}

// levelize groups steps into dependency levels. Each level's steps have
// every depends_on entry satisfied by an earlier level.
func levelize(steps []profile.CompositeStep) ([][]stepWithIndex, *errs.Error) {
	levelOf := make(map[string]int, len(steps))
	byStoreAs := make(map[string]profile.CompositeStep, len(steps))
	for _, s := range steps {
		byStoreAs[s.StoreAs] = s
	}

	var resolve func(name string, visiting map[string]bool) (int, *errs.Error)
	resolve = func(name string, visiting map[string]bool) (int, *errs.Error) {
		if lvl, ok := levelOf[name]; ok {
			return lvl, nil
		}
		if visiting[name] {
			return 0, errs.Validation(fmt.Sprintf("dependency cycle detected at step %q", name), nil)
		}
		visiting[name] = true

		step, ok := byStoreAs[name]
		if !ok {
			return 0, errs.Validation(fmt.Sprintf("unknown dependency %q", name), nil)
		}

		maxDep := -1
		for _, dep := range step.DependsOn {
			depLvl, err := resolve(dep, visiting)
			if err != nil {
				return 0, err
			}
			if depLvl > maxDep {
				maxDep = depLvl
			}
		}
		lvl := maxDep + 1
		levelOf[name] = lvl
		return lvl, nil
	}

	maxLevel := 0
	for _, s := range steps {
		lvl, err := resolve(s.StoreAs, map[string]bool{})
		if err != nil {
			return nil, err
		}
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	levels := make([][]stepWithIndex, maxLevel+1)
	for i, s := range steps {
		lvl := levelOf[s.StoreAs]
		levels[lvl] = append(levels[lvl], stepWithIndex{CompositeStep: s, index: i})
	}

	out := levels[:0:0]
	for _, l := range levels {
		if len(l) > 0 {
			out = append(out, l)
		}
	}
	return out, nil
}
