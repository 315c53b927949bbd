package soulbound

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyMinted is returned when a mint targets an identifier that
	// already has an owner.
	ErrAlreadyMinted = errors.New("soulbound: token already minted")
	// ErrNonTransferable is returned by every transfer or approval path;
	// soulbound tokens stay with their original owner unconditionally.
	ErrNonTransferable = errors.New("soulbound: token is non-transferable")
	// ErrTokenNotFound is returned by lookups for identifiers that were
	// never minted.
	ErrTokenNotFound = errors.New("soulbound: token not found")
	// ErrZeroOwner rejects mints to the zero address.
	ErrZeroOwner = errors.New("soulbound: owner must not be the zero address")

	ErrNilState = errors.New("soulbound registry: state not configured")
)

// registryState is the persistence slice the registry needs: an owner lookup
// and an owner write, both keyed by the 32-byte token identifier.
type registryState interface {
	TokenOwner(id [32]byte) ([20]byte, bool, error)
	SetTokenOwner(id [32]byte, owner [20]byte) error
}

// Registry is the non-transferable token store. Tokens are minted exactly
// once per identifier and can never move afterwards; every transfer-shaped
// operation fails with ErrNonTransferable.
type Registry struct {
	state registryState
}

// NewRegistry constructs a registry without a state backend; SetState must be
// called before use.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetState configures the persistence backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// Mint assigns id to owner. A second mint for the same id fails with
// ErrAlreadyMinted no matter who owns it.
func (r *Registry) Mint(owner [20]byte, id [32]byte) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	if owner == ([20]byte{}) {
		return ErrZeroOwner
	}
	if _, exists, err := r.state.TokenOwner(id); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %x", ErrAlreadyMinted, id)
	}
	return r.state.SetTokenOwner(id, owner)
}

// OwnerOf returns the owner of id.
func (r *Registry) OwnerOf(id [32]byte) ([20]byte, error) {
	if r == nil || r.state == nil {
		return [20]byte{}, ErrNilState
	}
	owner, exists, err := r.state.TokenOwner(id)
	if err != nil {
		return [20]byte{}, err
	}
	if !exists {
		return [20]byte{}, fmt.Errorf("%w: %x", ErrTokenNotFound, id)
	}
	return owner, nil
}

// Minted reports whether id has been minted.
func (r *Registry) Minted(id [32]byte) (bool, error) {
	if r == nil || r.state == nil {
		return false, ErrNilState
	}
	_, exists, err := r.state.TokenOwner(id)
	return exists, err
}

// Transfer always fails; soulbound tokens cannot move.
func (r *Registry) Transfer(from, to [20]byte, id [32]byte) error {
	return ErrNonTransferable
}

// Approve always fails; there is nothing an approval could ever authorize.
func (r *Registry) Approve(spender [20]byte, id [32]byte) error {
	return ErrNonTransferable
}

// SetApprovalForAll always fails for the same reason as Approve.
func (r *Registry) SetApprovalForAll(owner, operator [20]byte, approved bool) error {
	return ErrNonTransferable
}
