package soulbound

import (
	"errors"
	"testing"
)

type mapState struct {
	owners map[[32]byte][20]byte
}

func newMapState() *mapState {
	return &mapState{owners: make(map[[32]byte][20]byte)}
}

func (s *mapState) TokenOwner(id [32]byte) ([20]byte, bool, error) {
	owner, ok := s.owners[id]
	return owner, ok, nil
}

func (s *mapState) SetTokenOwner(id [32]byte, owner [20]byte) error {
	s.owners[id] = owner
	return nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func tokenID(b byte) [32]byte {
	var out [32]byte
	out[31] = b
	return out
}

func TestMintOnce(t *testing.T) {
	registry := NewRegistry()
	registry.SetState(newMapState())

	owner := addr(0x01)
	id := tokenID(0xAA)

	if err := registry.Mint(owner, id); err != nil {
		t.Fatalf("first mint failed: %v", err)
	}
	if err := registry.Mint(owner, id); !errors.Is(err, ErrAlreadyMinted) {
		t.Fatalf("expected ErrAlreadyMinted, got %v", err)
	}
	if err := registry.Mint(addr(0x02), id); !errors.Is(err, ErrAlreadyMinted) {
		t.Fatalf("expected ErrAlreadyMinted for other owner, got %v", err)
	}

	got, err := registry.OwnerOf(id)
	if err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if got != owner {
		t.Fatalf("owner mismatch: got %x want %x", got, owner)
	}
}

func TestMintRejectsZeroOwner(t *testing.T) {
	registry := NewRegistry()
	registry.SetState(newMapState())

	if err := registry.Mint([20]byte{}, tokenID(0x01)); !errors.Is(err, ErrZeroOwner) {
		t.Fatalf("expected ErrZeroOwner, got %v", err)
	}
}

func TestTransferPathsAlwaysRejected(t *testing.T) {
	registry := NewRegistry()
	registry.SetState(newMapState())

	owner := addr(0x01)
	id := tokenID(0xBB)
	if err := registry.Mint(owner, id); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if err := registry.Transfer(owner, addr(0x02), id); !errors.Is(err, ErrNonTransferable) {
		t.Fatalf("transfer: expected ErrNonTransferable, got %v", err)
	}
	if err := registry.Approve(addr(0x02), id); !errors.Is(err, ErrNonTransferable) {
		t.Fatalf("approve: expected ErrNonTransferable, got %v", err)
	}
	if err := registry.SetApprovalForAll(owner, addr(0x02), true); !errors.Is(err, ErrNonTransferable) {
		t.Fatalf("setApprovalForAll: expected ErrNonTransferable, got %v", err)
	}

	got, err := registry.OwnerOf(id)
	if err != nil || got != owner {
		t.Fatalf("owner changed after rejected transfers: %x %v", got, err)
	}
}

func TestOwnerOfUnknownToken(t *testing.T) {
	registry := NewRegistry()
	registry.SetState(newMapState())

	if _, err := registry.OwnerOf(tokenID(0xCC)); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	minted, err := registry.Minted(tokenID(0xCC))
	if err != nil {
		t.Fatalf("minted check failed: %v", err)
	}
	if minted {
		t.Fatalf("unexpected minted=true for unknown token")
	}
}

func TestNilStateGuards(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Mint(addr(0x01), tokenID(0x01)); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
	if _, err := registry.OwnerOf(tokenID(0x01)); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}
