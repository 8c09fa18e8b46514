package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"

	"rosterchat/internal/domain/service"
	"rosterchat/pkg/errors"
)

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

var _ service.TokenVerifier = (*FirebaseAuthClient)(nil)

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", errors.Unauthorized("Invalid or expired token", err)
	}

	return result.UID, nil
}

// GenerateToken mints a Firebase custom token. Clients exchange it for an ID
// token before calling the API.
func (f *FirebaseAuthClient) GenerateToken(ctx context.Context, uid string) (string, error) {
	if uid == "" {
		return "", errors.BadRequest("uid is required", nil)
	}

	token, err := f.client.CustomToken(ctx, uid)
	if err != nil {
		return "", errors.Internal("Failed to create custom token", err)
	}
	return token, nil
}
