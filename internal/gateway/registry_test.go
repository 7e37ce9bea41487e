package gateway

import (
	"context"
	"testing"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string { return s.name }
func (s stubAdapter) Charge(context.Context, ChargeRequest) (*ChargeResult, error) {
	return &ChargeResult{Outcome: OutcomeCompleted}, nil
}
func (s stubAdapter) VerifyWebhook(context.Context, []byte, map[string]string) (*Event, error) {
	return &Event{Kind: EventIgnored}, nil
}

func TestRegistryLookup(t *testing.T) {
	registry, err := NewRegistry(stubAdapter{name: "card"}, stubAdapter{name: "Wallet"})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}
	if _, ok := registry.Get(" CARD "); !ok {
		t.Fatalf("card adapter should resolve case-insensitively")
	}
	if _, ok := registry.Get("crypto"); ok {
		t.Fatalf("unknown selector must not resolve")
	}
	names := registry.Names()
	if len(names) != 2 || names[0] != "card" || names[1] != "wallet" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(stubAdapter{name: "card"}, stubAdapter{name: "card"}); err == nil {
		t.Fatalf("duplicate selector should fail")
	}
}
