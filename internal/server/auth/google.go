package auth

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/idtoken"
)

var ErrInvalidAssertion = errors.New("invalid identity assertion")

// Identity is the profile extracted from a verified external assertion.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// IdentityVerifier verifies an external identity assertion.
type IdentityVerifier interface {
	Verify(ctx context.Context, assertion string) (*Identity, error)
}

// GoogleVerifier validates Google ID tokens against Google's published keys.
type GoogleVerifier struct {
	clientID string
	validate func(ctx context.Context, token, audience string) (*idtoken.Payload, error)
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID, validate: idtoken.Validate}
}

func (g *GoogleVerifier) Verify(ctx context.Context, assertion string) (*Identity, error) {
	if g.clientID == "" {
		return nil, fmt.Errorf("%w: google login is not configured", ErrInvalidAssertion)
	}
	if assertion == "" {
		return nil, ErrInvalidAssertion
	}

	payload, err := g.validate(ctx, assertion, g.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}

	email, _ := payload.Claims["email"].(string)
	name, _ := payload.Claims["name"].(string)
	if payload.Subject == "" || email == "" {
		return nil, fmt.Errorf("%w: missing profile fields", ErrInvalidAssertion)
	}

	return &Identity{Subject: payload.Subject, Email: email, Name: name}, nil
}
