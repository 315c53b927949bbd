package badge

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Display field length caps, applied after NFC normalization.
const (
	maxDisplayName   = 128
	maxDisplayURI    = 512
	maxDisplayCustom = 2048
)

// DisplayConfig carries the presentation settings a receiving account exposes
// on its badges. All strings are stored NFC-normalized.
type DisplayConfig struct {
	Name        string
	ImageURI    string
	ExternalURL string
	CustomData  string
}

// normalize NFC-normalizes every field and enforces the length caps.
func (c DisplayConfig) normalize() (DisplayConfig, error) {
	out := DisplayConfig{
		Name:        norm.NFC.String(c.Name),
		ImageURI:    norm.NFC.String(c.ImageURI),
		ExternalURL: norm.NFC.String(c.ExternalURL),
		CustomData:  norm.NFC.String(c.CustomData),
	}
	for _, field := range []struct {
		name  string
		value string
		max   int
	}{
		{"name", out.Name, maxDisplayName},
		{"imageUri", out.ImageURI, maxDisplayURI},
		{"externalUrl", out.ExternalURL, maxDisplayURI},
		{"customData", out.CustomData, maxDisplayCustom},
	} {
		if len(field.value) > field.max {
			return DisplayConfig{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrDisplayFieldTooLong, field.name, field.max)
		}
	}
	return out, nil
}

// ControlChecker decides whether caller may edit the display configuration of
// account. It gates nothing but that peripheral setter.
type ControlChecker interface {
	CanControl(account AccountID, caller [20]byte) bool
}

// ControlCheckerFunc adapts a plain function to the ControlChecker interface.
type ControlCheckerFunc func(account AccountID, caller [20]byte) bool

// CanControl implements the ControlChecker interface.
func (f ControlCheckerFunc) CanControl(account AccountID, caller [20]byte) bool {
	return f(account, caller)
}

// AddressControl grants control of an address-derived account to exactly the
// address occupying its low 160 bits. Accounts with non-zero middle bits were
// not derived from an address and are controlled by nobody under this policy.
type AddressControl struct{}

// CanControl implements the ControlChecker interface.
func (AddressControl) CanControl(account AccountID, caller [20]byte) bool {
	addr, ok := account.Address()
	if !ok {
		return false
	}
	return addr == caller
}

// SetDisplay updates the display configuration of account after checking that
// caller controls it. The stored value is returned with all strings
// NFC-normalized.
func (e *Engine) SetDisplay(caller [20]byte, account AccountID, cfg DisplayConfig) (DisplayConfig, error) {
	if e == nil || e.state == nil {
		return DisplayConfig{}, ErrNilState
	}
	checker := e.checker
	if checker == nil {
		checker = AddressControl{}
	}
	if !checker.CanControl(account, caller) {
		return DisplayConfig{}, fmt.Errorf("%w: %s", ErrUnauthorized, account)
	}
	normalized, err := cfg.normalize()
	if err != nil {
		return DisplayConfig{}, err
	}
	if err := e.state.PutBadgeDisplay(account, &normalized); err != nil {
		return DisplayConfig{}, err
	}
	e.emit(displayUpdatedEvent(account, caller, &normalized))
	return normalized, nil
}

// Display returns the stored display configuration for account, if any.
func (e *Engine) Display(account AccountID) (*DisplayConfig, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	return e.state.BadgeDisplay(account)
}
