package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/corelink-io/corelink-core/internal/device"
)

// mockDeviceRepo is a minimal in-memory device catalog.
type mockDeviceRepo struct {
	devices map[string]*device.Device
}

func (m *mockDeviceRepo) GetByID(_ context.Context, id string) (*device.Device, error) {
	d, ok := m.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	clone := *d
	return &clone, nil
}

func (m *mockDeviceRepo) List(_ context.Context) ([]device.Device, error) { return nil, nil }
func (m *mockDeviceRepo) ListByCustomer(_ context.Context, _ string) ([]device.Device, error) {
	return nil, nil
}
func (m *mockDeviceRepo) Create(_ context.Context, _ *device.Device) error { return nil }
func (m *mockDeviceRepo) Update(_ context.Context, _ *device.Device) error { return nil }
func (m *mockDeviceRepo) Delete(_ context.Context, _ string) error         { return nil }

func newTestValidator() *Validator {
	repo := &mockDeviceRepo{devices: map[string]*device.Device{
		"device-1": {ID: "device-1", Name: "Lock", Protocol: device.ProtocolMQTT, CustomerID: "cust-1"},
		"device-2": {ID: "device-2", Name: "Shared", Protocol: device.ProtocolMQTT},
	}}
	return NewValidator(repo, testSecret)
}

func TestAuthorizeTarget(t *testing.T) {
	v := newTestValidator()
	ctx := context.Background()

	tests := []struct {
		name     string
		claims   *CustomClaims
		perm     Permission
		targetID string
		wantErr  error
	}{
		{
			"owner may execute",
			&CustomClaims{Role: RoleUser, CustomerID: "cust-1"},
			PermRPCExecute, "device-1", nil,
		},
		{
			"foreign customer denied",
			&CustomClaims{Role: RoleUser, CustomerID: "cust-2"},
			PermRPCExecute, "device-1", ErrAccessDenied,
		},
		{
			"admin crosses customer boundary",
			&CustomClaims{Role: RoleAdmin},
			PermRPCExecute, "device-1", nil,
		},
		{
			"unscoped device visible to anyone",
			&CustomClaims{Role: RoleUser, CustomerID: "cust-9"},
			PermRPCExecute, "device-2", nil,
		},
		{
			"missing permission beats target lookup",
			&CustomClaims{Role: RoleUser, CustomerID: "cust-1"},
			PermRPCManage, "device-1", ErrPermissionDenied,
		},
		{
			"unknown target",
			&CustomClaims{Role: RoleAdmin},
			PermRPCExecute, "ghost", device.ErrDeviceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := v.AuthorizeTarget(ctx, tt.claims, tt.perm, tt.targetID)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("AuthorizeTarget() error = %v", err)
				}
				if target == nil || target.ID != tt.targetID {
					t.Errorf("target = %+v", target)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AuthorizeTarget() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	v := newTestValidator()

	if err := v.Authorize(&CustomClaims{Role: RoleService}, PermEnginePush); err != nil {
		t.Errorf("Authorize() error = %v", err)
	}
	if err := v.Authorize(&CustomClaims{Role: RoleUser}, PermEnginePush); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Authorize() error = %v, want ErrPermissionDenied", err)
	}
}
