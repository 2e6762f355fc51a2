package core

import "context"

type Permission string

const (
	PermissionCamera        Permission = "camera"
	PermissionMicrophone    Permission = "microphone"
	PermissionNotifications Permission = "notifications"
	PermissionBiometrics    Permission = "biometrics"
)

// PermissionPrompter asks the device for a runtime permission.
type PermissionPrompter interface {
	Request(ctx context.Context, p Permission) (granted bool, err error)
}

// BiometricGate re-authenticates the device owner before a stored session is used.
type BiometricGate interface {
	Available(ctx context.Context) bool
	Authenticate(ctx context.Context, reason string) error
}
