package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/jackc/pgx/v5"

	"github.com/OniT-Enterprises/meza/internal/routing"
)

const (
	internalRuleDecisionAllow = "allow"
	internalRuleDecisionDeny  = "deny"
)

// internalRulesEvaluateRequest dry-runs a CEL eligibility expression the way
// payroll would evaluate it, before the expression is saved on an allowance
// type. The context is built from an employee when employee_id is given;
// explicit context entries override the derived ones.
type internalRulesEvaluateRequest struct {
	Expr       string            `json:"expr"`
	EmployeeID string            `json:"employee_id,omitempty"`
	AsOf       string            `json:"as_of,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

type internalRulesEvaluateResponse struct {
	Expr     string            `json:"expr"`
	AsOf     string            `json:"as_of"`
	Decision string            `json:"decision"`
	Context  map[string]string `json:"context"`
}

var newInternalRulesCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("ctx", cel.MapType(cel.StringType, cel.StringType)))
}

var newInternalRulesCELProgram = func(env *cel.Env, ast *cel.Ast) (cel.Program, error) {
	return env.Program(ast)
}

var internalRuleProgramCache sync.Map

func handleInternalRulesEvaluateAPI(w http.ResponseWriter, r *http.Request, employees EmployeeStore) {
	tenant, ok := currentTenant(r.Context())
	if !ok {
		routingWriteErrorInternal(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return
	}
	if r.Method != http.MethodPost {
		routingWriteErrorInternal(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req internalRulesEvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routingWriteErrorInternal(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}

	req.Expr = strings.TrimSpace(req.Expr)
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	req.AsOf = strings.TrimSpace(req.AsOf)
	if req.Expr == "" {
		routingWriteErrorInternal(w, r, http.StatusBadRequest, "invalid_request", "expr required")
		return
	}
	if req.AsOf == "" {
		req.AsOf = currentUTCDateString()
	}
	if _, err := time.Parse("2006-01-02", req.AsOf); err != nil {
		routingWriteErrorInternal(w, r, http.StatusBadRequest, "invalid_as_of", "invalid as_of")
		return
	}

	ctxMap := map[string]string{"tenant_id": tenant.ID, "as_of": req.AsOf}
	if req.EmployeeID != "" {
		if employees == nil {
			routingWriteErrorInternal(w, r, http.StatusInternalServerError, "employee_store_missing", "employee store missing")
			return
		}
		employee, err := employees.GetEmployee(r.Context(), tenant.ID, req.EmployeeID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				routingWriteErrorInternal(w, r, http.StatusNotFound, "HR_EMPLOYEE_NOT_FOUND", "employee not found")
				return
			}
			writeInternalAPIError(w, r, err, "RULE_EVALUATE_FAILED")
			return
		}
		for k, v := range allowanceCELContext(employee, req.AsOf) {
			ctxMap[k] = v
		}
		ctxMap["tenant_id"] = tenant.ID
		ctxMap["as_of"] = req.AsOf
	}
	for k, v := range req.Context {
		k = strings.TrimSpace(k)
		if k != "" {
			ctxMap[k] = v
		}
	}

	eligible, err := evalInternalRuleExpr(req.Expr, ctxMap)
	if err != nil {
		routingWriteErrorInternal(w, r, http.StatusUnprocessableEntity, "RULE_EVALUATE_FAILED", err.Error())
		return
	}
	decision := internalRuleDecisionDeny
	if eligible {
		decision = internalRuleDecisionAllow
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(internalRulesEvaluateResponse{
		Expr:     req.Expr,
		AsOf:     req.AsOf,
		Decision: decision,
		Context:  ctxMap,
	})
}

func routingWriteErrorInternal(w http.ResponseWriter, r *http.Request, status int, code string, msg string) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, msg)
}

func evalInternalRuleExpr(expr string, ctxMap map[string]string) (bool, error) {
	program, err := loadOrCompileInternalProgram(expr, cel.BoolType, &internalRuleProgramCache)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{"ctx": ctxMap})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("expression did not yield a boolean")
	}
	return v, nil
}

func loadOrCompileInternalProgram(expr string, outputType *cel.Type, cache *sync.Map) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := cache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newInternalRulesCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != outputType {
		return nil, errors.New("expression output type mismatch")
	}
	program, err := newInternalRulesCELProgram(env, ast)
	if err != nil {
		return nil, err
	}
	cache.Store(expr, program)
	return program, nil
}
