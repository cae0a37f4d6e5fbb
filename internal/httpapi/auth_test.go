package httpapi

import (
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"stockpos/internal/domain"
)

func TestAuthManagerHashesPlainPasswords(t *testing.T) {
	auth, err := NewAuthManager("secret", time.Hour, []domain.UserAccount{
		{Username: "Admin", Password: "admin123", Role: domain.RoleAdmin, Active: true},
	})
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}

	cred, ok := auth.users["admin"]
	if !ok {
		t.Fatalf("expected username to be normalized to lower case")
	}
	if !isPasswordHash(cred.password) {
		t.Fatalf("expected password to be stored as bcrypt hash")
	}

	resp, err := auth.Login(domain.LoginRequest{Username: " ADMIN ", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %q", resp.Role)
	}
}

func TestAuthManagerAcceptsPrehashedPassword(t *testing.T) {
	hash := mustHashPassword(t, "kasir123")
	auth, err := NewAuthManager("secret", time.Hour, []domain.UserAccount{
		{Username: "kasir", Password: hash, Role: domain.RoleCashier, Active: true},
	})
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	if auth.users["kasir"].password != hash {
		t.Fatalf("expected configured hash to be kept as is")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "kasir", Password: "kasir123"}); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestAuthManagerSkipsIncompleteAccounts(t *testing.T) {
	auth, err := NewAuthManager("secret", time.Hour, []domain.UserAccount{
		{Username: "", Password: "x", Role: domain.RoleAdmin, Active: true},
		{Username: "nopass", Password: "", Role: domain.RoleAdmin, Active: true},
		{Username: "owner", Password: "owner123", Role: "owner", Active: true},
	})
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	if len(auth.users) != 0 {
		t.Fatalf("expected no accounts, got %d", len(auth.users))
	}
}

func TestAuthManagerRejectsInactiveAccount(t *testing.T) {
	auth, err := NewAuthManager("secret", time.Hour, []domain.UserAccount{
		{Username: "kasir", Password: mustHashPassword(t, "kasir123"), Role: domain.RoleCashier, Active: false},
	})
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	_, err = auth.Login(domain.LoginRequest{Username: "kasir", Password: "kasir123"})
	if err == nil || !strings.Contains(err.Error(), "inactive") {
		t.Fatalf("expected inactive error, got %v", err)
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	auth, err := NewAuthManager("secret", time.Hour, []domain.UserAccount{
		{Username: "kasir", Password: mustHashPassword(t, "kasir123"), Role: domain.RoleCashier, Active: true},
	})
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	resp, err := auth.Login(domain.LoginRequest{Username: "kasir", Password: "kasir123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "kasir" || actor.Role != domain.RoleCashier {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsForeignAndExpiredTokens(t *testing.T) {
	auth, err := NewAuthManager("secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}

	other, _ := NewAuthManager("another-secret", time.Hour, nil)
	foreign, err := other.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(foreign); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired, err := auth.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "admin", Issuer: tokenIssuer},
		Role:             domain.RoleAdmin,
	})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := auth.ParseToken(unsigned); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}
