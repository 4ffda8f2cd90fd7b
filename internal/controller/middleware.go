package controller

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
)

type ctxKey int

const workspaceKey ctxKey = iota

// WorkspaceHeader carries the caller's workspace on operator routes.
const WorkspaceHeader = "X-Workspace-ID"

// RequireToken checks a bearer token. An empty token disables the check.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Workspace requires a positive X-Workspace-ID and stores it on the request context.
func Workspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.Header.Get(WorkspaceHeader))
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "missing or invalid "+WorkspaceHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), workspaceKey, id)))
	})
}

func WorkspaceID(ctx context.Context) int {
	id, _ := ctx.Value(workspaceKey).(int)
	return id
}
