// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

package permission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewkit/crewkit/pkg/agents"
	"github.com/crewkit/crewkit/pkg/config"
	"github.com/crewkit/crewkit/pkg/identity"
	"github.com/crewkit/crewkit/pkg/logger"
	"github.com/crewkit/crewkit/pkg/store"
)

const defaultTimeout = 120 * time.Second

// Router resolves permission requests: session memo, persisted rules,
// parent auto-approval policy, owner escalation, then the user.
type Router struct {
	policy  agents.ApprovalPolicy
	mailbox ParentMailbox // nil: escalation goes straight to the user
	rules   *store.Store  // nil: always/never behave like session
	timeout time.Duration

	// Deny lists force escalation even when the policy would approve.
	denyFiles    []string
	denyCommands []string
	allowOutside bool

	mu   sync.Mutex
	memo map[string]Decision
}

func NewRouter(policy agents.ApprovalPolicy, mailbox ParentMailbox, rules *store.Store) *Router {
	return &Router{
		policy:  policy,
		mailbox: mailbox,
		rules:   rules,
		timeout: defaultTimeout,
		memo:    make(map[string]Decision),
	}
}

// NewRouterFromConfig builds a router whose policy comes from the
// permission config, falling back to the built-in defaults for any
// list the config leaves empty.
func NewRouterFromConfig(cfg config.PermissionConfig, mailbox ParentMailbox, rules *store.Store) *Router {
	policy := agents.DefaultApprovalPolicy()
	if len(cfg.SafeReadPatterns) > 0 {
		policy.SafeReadPatterns = cfg.SafeReadPatterns
	}
	if len(cfg.SafeWritePatternsInTree) > 0 {
		policy.SafeWritePatternsInWorktree = cfg.SafeWritePatternsInTree
	}
	if len(cfg.SafeCommands) > 0 {
		policy.SafeCommands = cfg.SafeCommands
	}

	r := NewRouter(policy, mailbox, rules)
	if cfg.TimeoutSeconds > 0 {
		r.timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	r.denyFiles = cfg.FileDenyPatterns
	r.denyCommands = cfg.TerminalDenyList
	r.allowOutside = cfg.AllowOutsideWorkspace
	return r
}

// denied reports whether the target sits on a configured deny list.
func (r *Router) denied(req Request) bool {
	switch req.Kind {
	case KindRead, KindWrite:
		return matchAnyGlob(r.denyFiles, req.Target)
	case KindShell:
		return matchCommandPrefix(r.denyCommands, req.Target)
	}
	return false
}

func memoKey(req Request) string {
	return fmt.Sprintf("%s:%s:%s", req.Kind, req.Action, req.Target)
}

// Route resolves one request to a terminal approve/deny. It never
// panics and never returns an error: cancellation and timeouts resolve
// to decisions.
func (r *Router) Route(ctx context.Context, req Request, wctx identity.WorkerContext, fallbackToUser UserCallback) Decision {
	if req.ID == "" {
		req.ID = "perm-" + uuid.NewString()
	}
	if req.Timeout <= 0 {
		req.Timeout = r.timeout
	}
	if r.denied(req) {
		req.IsSensitive = true
	}
	if r.allowOutside && req.Kind == KindWrite {
		ctxCopy := make(map[string]any, len(req.Context)+1)
		for k, v := range req.Context {
			ctxCopy[k] = v
		}
		ctxCopy["isInWorktree"] = true
		req.Context = ctxCopy
	}

	if d, ok := r.recalled(ctx, req); ok {
		r.audit(ctx, req, d)
		return d
	}

	if ctx.Err() != nil {
		return Decision{Outcome: OutcomeDeny, Reason: "cancelled", DecidedBy: "router"}
	}

	// No owner: nothing above us but the user.
	if wctx.Owner == nil {
		d := r.askUser(ctx, req, fallbackToUser)
		r.remember(ctx, req, d)
		r.audit(ctx, req, d)
		return d
	}

	// Parent auto-approval is synchronous and pure.
	if d, ok := handleAsParent(req, r.policy); ok {
		d.Remember = RememberSession
		r.remember(ctx, req, d)
		r.audit(ctx, req, d)
		return d
	}

	d := r.escalate(ctx, req, wctx, fallbackToUser)
	r.remember(ctx, req, d)
	r.audit(ctx, req, d)
	return d
}

// handleAsParent applies the policy. The second return is false when
// the request must escalate.
func handleAsParent(req Request, policy agents.ApprovalPolicy) (Decision, bool) {
	if req.IsSensitive {
		return Decision{}, false
	}
	switch req.Kind {
	case KindRead:
		if matchAnyGlob(policy.SafeReadPatterns, req.Target) {
			return Decision{Outcome: OutcomeApprove, DecidedBy: "auto-policy"}, true
		}
	case KindWrite:
		inWorktree, _ := req.Context["isInWorktree"].(bool)
		if inWorktree && matchAnyGlob(policy.SafeWritePatternsInWorktree, req.Target) {
			return Decision{Outcome: OutcomeApprove, DecidedBy: "auto-policy"}, true
		}
	case KindShell:
		if matchCommandPrefix(policy.SafeCommands, req.Target) {
			return Decision{Outcome: OutcomeApprove, DecidedBy: "auto-policy"}, true
		}
	}
	return Decision{}, false
}

// escalate asks the owner through the mailbox, falling through to the
// user on timeout, on an owner-side escalate, or when no mailbox is
// wired.
func (r *Router) escalate(ctx context.Context, req Request, wctx identity.WorkerContext, fallbackToUser UserCallback) Decision {
	if r.mailbox == nil {
		return r.askUser(ctx, req, fallbackToUser)
	}

	msg := Message{
		Type:                MessagePermissionRequest,
		PermissionRequestID: req.ID,
		Kind:                req.Kind,
		Action:              req.Action,
		Target:              req.Target,
		Context:             req.Context,
		IsSensitive:         req.IsSensitive,
		OriginWorkerID:      req.OriginWorkerID,
		OriginDepth:         req.OriginDepth,
	}

	resp, err := r.mailbox.Ask(wctx.Owner.OwnerID, msg, req.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{Outcome: OutcomeDeny, Reason: "cancelled", DecidedBy: "router"}
		}
		logger.WarnCF("permission", "Owner did not answer, escalating to user", map[string]any{
			"request_id": req.ID,
			"owner":      wctx.Owner.OwnerID,
			"error":      err.Error(),
		})
		return r.askUser(ctx, req, fallbackToUser)
	}

	switch resp.Decision {
	case string(OutcomeApprove):
		return Decision{Outcome: OutcomeApprove, Reason: resp.Reason, DecidedBy: "parent", Remember: resp.Remember}
	case string(OutcomeDeny):
		return Decision{Outcome: OutcomeDeny, Reason: resp.Reason, DecidedBy: "parent", Remember: resp.Remember}
	default:
		// Owner punted.
		return r.askUser(ctx, req, fallbackToUser)
	}
}

func (r *Router) askUser(ctx context.Context, req Request, fallbackToUser UserCallback) Decision {
	if ctx.Err() != nil {
		return Decision{Outcome: OutcomeDeny, Reason: "cancelled", DecidedBy: "router"}
	}
	if fallbackToUser == nil {
		return Decision{Outcome: OutcomeDeny, Reason: "no decision path available", DecidedBy: "router"}
	}
	d := fallbackToUser(ctx, req)
	if d.DecidedBy == "" {
		d.DecidedBy = "user"
	}
	if d.Remember == "" {
		d.Remember = RememberSession
	}
	return d
}

// recalled checks the session memo and then the persisted rule table.
func (r *Router) recalled(ctx context.Context, req Request) (Decision, bool) {
	key := memoKey(req)
	r.mu.Lock()
	d, ok := r.memo[key]
	r.mu.Unlock()
	if ok {
		d.DecidedBy = "memo"
		return d, true
	}

	if r.rules != nil {
		rule, err := r.rules.LookupRule(ctx, string(req.Kind), req.Action, req.Target)
		if err == nil && rule != nil {
			return Decision{Outcome: Outcome(rule.Decision), DecidedBy: "rule", Remember: RememberAlways}, true
		}
	}
	return Decision{}, false
}

func (r *Router) remember(ctx context.Context, req Request, d Decision) {
	switch d.Remember {
	case RememberNever:
		return
	case RememberAlways:
		if r.rules != nil {
			err := r.rules.SaveRule(ctx, store.ApprovalRule{
				ID:       "rule-" + uuid.NewString(),
				Kind:     string(req.Kind),
				Action:   req.Action,
				Target:   req.Target,
				Decision: string(d.Outcome),
			})
			if err != nil {
				logger.WarnCF("permission", "Failed to persist approval rule", map[string]any{
					"request_id": req.ID,
					"error":      err.Error(),
				})
			}
		}
		fallthrough
	default:
		r.mu.Lock()
		r.memo[memoKey(req)] = d
		r.mu.Unlock()
	}
}

func (r *Router) audit(ctx context.Context, req Request, d Decision) {
	if r.rules == nil {
		return
	}
	err := r.rules.RecordAudit(ctx, store.ApprovalRecord{
		RequestID: req.ID,
		WorkerID:  req.OriginWorkerID,
		Kind:      string(req.Kind),
		Action:    req.Action,
		Target:    req.Target,
		Decision:  string(d.Outcome),
		DecidedBy: d.DecidedBy,
		Reason:    d.Reason,
	})
	if err != nil {
		logger.WarnCF("permission", "Audit write failed", map[string]any{
			"request_id": req.ID,
			"error":      err.Error(),
		})
	}
}
