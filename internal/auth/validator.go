package auth

import (
	"context"
	"fmt"

	"github.com/corelink-io/corelink-core/internal/device"
)

// Validator is the access checkpoint in front of the RPC bridge.
type Validator struct {
	devices device.Repository
	secret  string
}

// NewValidator creates a validator backed by the device catalog.
func NewValidator(devices device.Repository, secret string) *Validator {
	return &Validator{
		devices: devices,
		secret:  secret,
	}
}

// ValidateToken parses and verifies a bearer token.
func (v *Validator) ValidateToken(tokenString string) (*CustomClaims, error) {
	return ParseToken(tokenString, v.secret)
}

// AuthorizeTarget checks that the caller may address the given device:
// the role must carry the permission, the device must exist, and
// customer-scoped roles must own it. Returns the device on success so
// the handler does not look it up twice.
func (v *Validator) AuthorizeTarget(ctx context.Context, claims *CustomClaims, perm Permission, targetID string) (*device.Device, error) {
	if !HasPermission(claims.Role, perm) {
		return nil, fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, claims.Role, perm)
	}

	target, err := v.devices.GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	if IsCustomerScoped(claims.Role) && !target.OwnedBy(claims.CustomerID) {
		return nil, fmt.Errorf("%w: target %s", ErrAccessDenied, targetID)
	}

	return target, nil
}

// Authorize checks a permission with no target entity involved
// (engine pushes, record reads by id).
func (v *Validator) Authorize(claims *CustomClaims, perm Permission) error {
	if !HasPermission(claims.Role, perm) {
		return fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, claims.Role, perm)
	}
	return nil
}
