// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

// Package permission routes sensitive-operation approvals up the
// parent chain, auto-approving by policy and escalating to the user
// when nothing closer can decide.
package permission

import (
	"context"
	"time"
)

type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
	KindShell Kind = "shell"
	KindMCP   Kind = "mcp"
)

// Request is one boundary check for a sensitive operation.
type Request struct {
	ID             string
	OriginWorkerID string
	OriginDepth    int
	Kind           Kind
	Action         string
	Target         string
	Context        map[string]any
	IsSensitive    bool
	Timeout        time.Duration
	CreatedAt      time.Time
}

type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeDeny    Outcome = "deny"
)

type Remember string

const (
	RememberSession Remember = "session"
	RememberAlways  Remember = "always"
	RememberNever   Remember = "never"
)

// Decision is the terminal result of routing. DecidedBy names the
// layer that settled it: memo, rule, auto-policy, parent, or user.
type Decision struct {
	Outcome   Outcome
	Reason    string
	DecidedBy string
	Remember  Remember
}

// Wire message types for the in-process queue between router and parent.
const (
	MessagePermissionRequest  = "permission_request"
	MessagePermissionResponse = "permission_response"
)

// Message is the wire record exchanged with the owner's queue.
type Message struct {
	Type                string         `json:"type"`
	PermissionRequestID string         `json:"permissionRequestId"`
	Kind                Kind           `json:"kind"`
	Action              string         `json:"action"`
	Target              string         `json:"target"`
	Context             map[string]any `json:"context,omitempty"`
	IsSensitive         bool           `json:"isSensitive"`
	OriginWorkerID      string         `json:"originWorkerId"`
	OriginDepth         int            `json:"originDepth"`
	Decision            string         `json:"decision,omitempty"` // approve | deny | escalate
	Reason              string         `json:"reason,omitempty"`
	Remember            Remember       `json:"remember,omitempty"`
}

// ParentMailbox delivers a permission request to a worker's owner and
// waits for the matching response. Implementations must respect ctx.
type ParentMailbox interface {
	Ask(ownerID string, msg Message, timeout time.Duration) (Message, error)
}

// UserCallback is the opaque "ask the human" function. The router never
// renders UI itself.
type UserCallback func(ctx context.Context, req Request) Decision
