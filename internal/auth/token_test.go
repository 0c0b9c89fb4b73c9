package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	ti := NewTokenIssuer([]byte("test-secret"))

	token, expires, err := ti.Issue(42)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("token %q is not a JWT", token)
	}
	if time.Until(expires) < TokenTTL-time.Minute {
		t.Errorf("expires = %v, want about %v from now", expires, TokenTTL)
	}

	userID, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != 42 {
		t.Errorf("userID = %d, want 42", userID)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, _, _ := NewTokenIssuer([]byte("one")).Issue(1)

	_, err := NewTokenIssuer([]byte("two")).Verify(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	ti := NewTokenIssuer([]byte("secret"))
	ti.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, _, err := ti.Issue(1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ti.now = time.Now
	if _, err := ti.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "1"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := NewTokenIssuer([]byte("secret")).Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	if _, err := NewTokenIssuer([]byte("secret")).Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}
