package provisioning

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration  = errors.New("invalid configuration")
	ErrInstall        = errors.New("certificate installation failed")
	ErrProfileInvalid = errors.New("TLS profile is not valid")
)

const noDeviceError = "no error reported by device"

// StageError names the workflow stage a device failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ProfileError reports a TLS profile the device does not consider valid.
type ProfileError struct {
	Profile string
	State   string
	Errors  []string
}

func (e *ProfileError) Error() string {
	state := e.State
	if state == "" {
		state = "unknown"
	}
	reason := noDeviceError
	if len(e.Errors) > 0 {
		reason = strings.Join(e.Errors, "; ")
	}
	return fmt.Sprintf("%s: profile %s is %s: %s", ErrProfileInvalid, e.Profile, state, reason)
}

func (e *ProfileError) Unwrap() error {
	return ErrProfileInvalid
}
