package controllers

import (
	"net/http"

	"github.com/UDDITwork/ZAMMER-sub011/api/middleware"
	"github.com/UDDITwork/ZAMMER-sub011/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

func PrivatePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{
			"scope":  "private",
			"status": "ok",
			"role":   string(middleware.RoleFromContext(r.Context())),
		})
	}
}
