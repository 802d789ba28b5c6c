package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"laeconomica/backend/internal/domain"
	"laeconomica/backend/internal/store/memory"
)

func newTestAuth() *AuthManager {
	return NewAuthManager(strings.Repeat("k", 32), time.Hour, memory.NewSeeded())
}

func TestLoginAndParseToken(t *testing.T) {
	auth := newTestAuth()

	resp, err := auth.Login(domain.LoginRequest{Username: "cajero", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "cashier" {
		t.Fatalf("role = %q, want cashier", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "cajero" || actor.Role != "cashier" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	auth := newTestAuth()

	if _, err := auth.Login(domain.LoginRequest{Username: "cajero", Password: "nope"}); err == nil {
		t.Fatal("wrong password accepted")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "ghost", Password: "cashier123"}); err == nil {
		t.Fatal("unknown user accepted")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := newTestAuth()

	if _, err := auth.ParseToken("not.a.token"); err == nil {
		t.Fatal("garbage token accepted")
	}

	// A token signed with a different secret must fail verification.
	other := NewAuthManager(strings.Repeat("x", 32), time.Hour, nil)
	foreign, err := other.sign("cajero", "cashier", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(foreign); err == nil {
		t.Fatal("foreign-signed token accepted")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	auth := newTestAuth()

	expired, err := auth.sign("cajero", "cashier", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(expired); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestCreateCashierValidation(t *testing.T) {
	auth := newTestAuth()
	ctx := context.Background()

	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "ab", Password: "secret1"}); err == nil {
		t.Fatal("short username accepted")
	}
	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "caja2", Password: "123"}); err == nil {
		t.Fatal("short password accepted")
	}
	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "cajero", Password: "secret1"}); err == nil {
		t.Fatal("duplicate username accepted")
	}

	created, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "Caja2", Password: "secret1"})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if created.Username != "caja2" || created.Role != "cashier" || !created.Active {
		t.Fatalf("created: %+v", created)
	}

	cashiers, err := auth.ListCashiers(ctx)
	if err != nil {
		t.Fatalf("list cashiers: %v", err)
	}
	found := false
	for _, c := range cashiers {
		if c.Username == "caja2" {
			found = true
		}
	}
	if !found {
		t.Fatalf("caja2 missing from %+v", cashiers)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "caja2", Password: "secret1"}); err != nil {
		t.Fatalf("new cashier login: %v", err)
	}
}
