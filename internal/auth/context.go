package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxName
	ctxRole
)

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, id.UserID)
	ctx = context.WithValue(ctx, ctxName, id.Name)
	ctx = context.WithValue(ctx, ctxRole, id.Role)
	return ctx
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

// Name may legitimately be empty; tokens are not required to carry it.
func Name(ctx context.Context) string {
	s, _ := ctx.Value(ctxName).(string)
	return s
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// IdentityFrom rebuilds the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, error) {
	uid, err := UserID(ctx)
	if err != nil {
		return Identity{}, err
	}
	role, _ := Role(ctx)
	return Identity{UserID: uid, Name: Name(ctx), Role: role}, nil
}
