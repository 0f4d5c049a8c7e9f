package httpapi

import (
	"context"

	"github.com/dmitrijs2005/levelstore/internal/server/models"
)

type ctxKey string

const (
	userKey    ctxKey = "user"
	tokenKey   ctxKey = "token"
	projectKey ctxKey = "project"
)

func withUser(ctx context.Context, u *models.User, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, u)
	return context.WithValue(ctx, tokenKey, token)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

func tokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

func withProject(ctx context.Context, p *models.Project) context.Context {
	return context.WithValue(ctx, projectKey, p)
}

func projectFromContext(ctx context.Context) *models.Project {
	p, _ := ctx.Value(projectKey).(*models.Project)
	return p
}
