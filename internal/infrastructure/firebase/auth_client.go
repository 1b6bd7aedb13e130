package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"

	"lokapasar/pkg/errors"
)

// Identity is the verified principal behind a connection token.
type Identity struct {
	UID      string
	Name     string
	PhotoURL string
}

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

// VerifyToken validates an ID token and extracts the identity claims used to
// label connections. Expired or malformed tokens come back as UNAUTHENTICATED.
func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return nil, errors.Unauthorized("Invalid or expired token", err)
	}

	identity := &Identity{UID: result.UID}
	if name, ok := result.Claims["name"].(string); ok {
		identity.Name = name
	}
	if picture, ok := result.Claims["picture"].(string); ok {
		identity.PhotoURL = picture
	}
	return identity, nil
}

func (f *FirebaseAuthClient) GenerateToken(ctx context.Context, uid string) (string, error) {
	token, err := f.client.CustomToken(ctx, uid)
	if err != nil {
		return "", errors.Internal("Failed to generate token", err)
	}
	return token, nil
}
