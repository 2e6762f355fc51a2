// Package device answers permission and biometric prompts on a headless host.
package device

import (
	"context"
	"errors"
	"slices"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/rs/zerolog/log"
)

var ErrNoBiometrics = errors.New("no biometric hardware")

// Prompter grants exactly the permissions it was configured with.
type Prompter struct {
	Granted []core.Permission
}

var _ core.PermissionPrompter = Prompter{}

func (p Prompter) Request(ctx context.Context, perm core.Permission) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok := slices.Contains(p.Granted, perm)
	log.Debug().Str("module", "device").Str("permission", string(perm)).Bool("granted", ok).Msg("permission request")
	return ok, nil
}

// NoBiometrics is the gate of a host without a sensor. Restore fails closed
// when biometrics were enabled elsewhere.
type NoBiometrics struct{}

var _ core.BiometricGate = NoBiometrics{}

func (NoBiometrics) Available(context.Context) bool { return false }

func (NoBiometrics) Authenticate(context.Context, string) error { return ErrNoBiometrics }

// Permissions parses configured names, skipping unknown ones.
func Permissions(names []string) []core.Permission {
	known := []core.Permission{
		core.PermissionCamera,
		core.PermissionMicrophone,
		core.PermissionNotifications,
		core.PermissionBiometrics,
	}
	var out []core.Permission
	for _, n := range names {
		p := core.Permission(n)
		if !slices.Contains(known, p) {
			log.Warn().Str("module", "device").Str("permission", n).Msg("unknown permission ignored")
			continue
		}
		out = append(out, p)
	}
	return out
}
