package controlapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/render"
	"github.com/guregu/null/v5"

	"github.com/rafaeljc/booker/internal/logger"
	"github.com/rafaeljc/booker/internal/ruleengine"
	"github.com/rafaeljc/booker/internal/store"
)

// handleCreateRule processes POST /api/v1/rules.
// Condition and action documents are compiled strictly before they are
// stored; a rule that would be skipped at evaluation time is refused here.
func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule := ruleengine.Rule{
		Name:          req.Name,
		Description:   req.Description,
		TargetType:    ruleengine.TargetType(req.TargetType),
		IsHard:        req.IsHard,
		IsActive:      active,
		Weight:        req.Weight,
		SortOrder:     req.SortOrder,
		ConditionJSON: document(req.Condition),
		ActionJSON:    document(req.Action),
	}
	if err := ruleengine.ValidateRule(rule); err != nil {
		writeBadRequest(w, r, "ERR_INVALID_RULE", err.Error())
		return
	}

	stored := store.Rule{Rule: rule}
	if err := a.store.CreateRule(r.Context(), &stored); err != nil {
		writeStoreError(w, r, err, "rule")
		return
	}

	logger.FromContext(r.Context()).Info("rule created",
		slog.Int64("rule_id", stored.ID),
		slog.String("target_type", string(stored.TargetType)),
		slog.Bool("is_hard", stored.IsHard),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toRule(stored))
}

// handleListRules processes GET /api/v1/rules. Rules are returned in
// evaluation order; active_only restricts the list to the evaluated set.
func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := parseOptionalBool(r, "active_only")
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_QUERY_PARAM", err.Error())
		return
	}

	rules, err := a.store.ListRules(r.Context(), activeOnly)
	if err != nil {
		writeStoreError(w, r, err, "rule")
		return
	}

	dtos := make([]Rule, len(rules))
	for i, rule := range rules {
		dtos[i] = toRule(rule)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"data": dtos})
}

// handleGetRule processes GET /api/v1/rules/{id}.
func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	rule, err := a.store.GetRule(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "rule")
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toRule(rule))
}

// handleUpdateRule processes PATCH /api/v1/rules/{id}. The merged rule goes
// through the same strict validation as a new one.
func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	var req UpdateRuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	// Read, merge and write under one row lock so concurrent patches serialize.
	var rule store.Rule
	err = a.store.InTx(r.Context(), func(q store.Queries) error {
		current, err := q.LockRule(r.Context(), id)
		if err != nil {
			return err
		}
		if err := req.apply(&current.Rule); err != nil {
			return &ruleInputError{code: "ERR_INVALID_INPUT", err: err}
		}
		if err := ruleengine.ValidateRule(current.Rule); err != nil {
			return &ruleInputError{code: "ERR_INVALID_RULE", err: err}
		}
		if err := q.UpdateRule(r.Context(), &current); err != nil {
			return err
		}
		rule = current
		return nil
	})

	var inputErr *ruleInputError
	if errors.As(err, &inputErr) {
		writeBadRequest(w, r, inputErr.code, inputErr.err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, r, err, "rule")
		return
	}

	logger.FromContext(r.Context()).Info("rule updated", slog.Int64("rule_id", rule.ID))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toRule(rule))
}

// ruleInputError aborts a patch transaction on a bad merged rule.
type ruleInputError struct {
	code string
	err  error
}

func (e *ruleInputError) Error() string { return e.err.Error() }

// handleDeleteRule processes DELETE /api/v1/rules/{id}.
func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, r, "ERR_INVALID_ID", err.Error())
		return
	}

	if err := a.store.DeleteRule(r.Context(), id); err != nil {
		writeStoreError(w, r, err, "rule")
		return
	}

	logger.FromContext(r.Context()).Info("rule deleted", slog.Int64("rule_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// apply merges the present fields into rule.
func (req *UpdateRuleRequest) apply(rule *ruleengine.Rule) error {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.TargetType != nil {
		rule.TargetType = ruleengine.TargetType(*req.TargetType)
	}
	if req.IsHard != nil {
		rule.IsHard = *req.IsHard
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.SortOrder != nil {
		rule.SortOrder = *req.SortOrder
	}
	if len(req.Weight) > 0 {
		var weight null.Float
		if err := json.Unmarshal(req.Weight, &weight); err != nil {
			return err
		}
		rule.Weight = weight
	}
	if len(req.Condition) > 0 {
		rule.ConditionJSON = document(req.Condition)
	}
	if len(req.Action) > 0 {
		rule.ActionJSON = document(req.Action)
	}
	return nil
}

// document normalizes a raw JSON document: a literal null becomes absent.
func document(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}
