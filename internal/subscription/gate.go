package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CapabilityArea is a group of features gated together.
type CapabilityArea string

const (
	AreaAI            CapabilityArea = "ai_api"
	AreaSMS           CapabilityArea = "sms_api"
	AreaDashboard     CapabilityArea = "dashboard"
	AreaPublicSurface CapabilityArea = "public_surface"
)

// ParseArea validates a capability area name.
func ParseArea(s string) (CapabilityArea, error) {
	switch a := CapabilityArea(s); a {
	case AreaAI, AreaSMS, AreaDashboard, AreaPublicSurface:
		return a, nil
	}
	return "", fmt.Errorf("unknown capability area %q", s)
}

type areaSet map[CapabilityArea]bool

var accessTable = map[AccessState]areaSet{
	StateActive:     {AreaAI: true, AreaSMS: true, AreaDashboard: true, AreaPublicSurface: true},
	StateRestricted: {AreaDashboard: true, AreaPublicSurface: true},
	StateLocked:     {},
	StateSuspended:  {},
	StateTerminated: {},
}

// IsAllowed reports whether a tenant in state may use area.
func IsAllowed(state AccessState, area CapabilityArea) bool {
	return accessTable[state][area]
}

var ErrAccessDenied = errors.New("access denied")

type AccessDeniedError struct {
	TenantID string
	State    AccessState
	Area     CapabilityArea
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: tenant %s is %s, %s unavailable", e.TenantID, e.State, e.Area)
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// Message is the user-facing explanation of the denial.
func (e *AccessDeniedError) Message() string {
	switch e.State {
	case StateRestricted:
		return fmt.Sprintf("%s is paused because your last payment failed. Update your payment method to restore it.", areaLabel(e.Area))
	case StateLocked:
		return "Your account is locked because a payment has been outstanding for over a week. Update your payment method to unlock it."
	case StateSuspended:
		return "Your account is suspended due to an unpaid balance. Update your payment method to reactivate it."
	case StateTerminated:
		return "Your subscription was terminated after 30 days without payment. Contact support to restore your account."
	}
	return "Access denied."
}

func areaLabel(a CapabilityArea) string {
	switch a {
	case AreaAI:
		return "AI generation"
	case AreaSMS:
		return "SMS sending"
	case AreaDashboard:
		return "The dashboard"
	case AreaPublicSurface:
		return "Your public page"
	}
	return string(a)
}

// Tenant is the billing view of an account. This package never writes it.
type Tenant struct {
	ID              string
	Plan            string
	PaymentFailedAt *time.Time
}

var ErrTenantNotFound = errors.New("tenant not found")

type TenantSource interface {
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
}

// Gate enforces the access table for tenants loaded from a TenantSource.
type Gate struct {
	tenants TenantSource
	now     func() time.Time
}

func NewGate(tenants TenantSource, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{tenants: tenants, now: now}
}

// State returns the tenant and its current access state.
func (g *Gate) State(ctx context.Context, tenantID string) (*Tenant, AccessState, error) {
	t, err := g.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, StateActive, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	return t, Resolve(t.PaymentFailedAt, g.now()), nil
}

// Enforce returns *AccessDeniedError when the tenant may not use area.
func (g *Gate) Enforce(ctx context.Context, tenantID string, area CapabilityArea) (*Tenant, error) {
	t, state, err := g.State(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !IsAllowed(state, area) {
		return t, &AccessDeniedError{TenantID: tenantID, State: state, Area: area}
	}
	return t, nil
}
