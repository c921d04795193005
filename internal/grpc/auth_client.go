package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"dm-service/internal/auth"
)

// IdentityResolveMethod is the identity provider RPC: the request is the raw
// token and the response the resolved user id, both as StringValue.
const IdentityResolveMethod = "/identity.v1.Identity/Resolve"

// IdentityClient resolves tokens through the identity provider over gRPC.
// It implements auth.Resolver.
type IdentityClient struct {
	conn grpc.ClientConnInterface
}

// NewIdentityClient constructs the wrapper.
func NewIdentityClient(conn grpc.ClientConnInterface) *IdentityClient {
	return &IdentityClient{conn: conn}
}

// Resolve verifies the token and returns the authenticated user id.
func (c *IdentityClient) Resolve(ctx context.Context, token string) (string, error) {
	resp := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, IdentityResolveMethod, wrapperspb.String(token), resp); err != nil {
		return "", err
	}
	if resp.GetValue() == "" {
		return "", auth.ErrInvalidToken
	}
	return resp.GetValue(), nil
}

var _ auth.Resolver = (*IdentityClient)(nil)
