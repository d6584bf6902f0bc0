package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/digkill/figureshop/internal/service"
)

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || !s.checkAdmin(user, pass) {
				w.Header().Set("WWW-Authenticate", `Basic realm="figureshop"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkAdmin prefers the bcrypt hash when one is configured.
func (s *Server) checkAdmin(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUsername)) != 1 {
		return false
	}
	if s.cfg.AdminPasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(pass)) == nil
	}
	if s.cfg.AdminPassword == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.AdminPassword)) == 1
}

func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	codes, err := s.codes.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

func (s *Server) handleMintCodes(w http.ResponseWriter, r *http.Request) {
	var req service.MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	codes, err := s.codes.Mint(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("admin minted codes", "count", len(codes), "usage", req.UsageCount)
	s.writeJSON(w, http.StatusCreated, map[string]any{"codes": codes})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	orders, err := s.orders.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) handleRepairAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.settlement.RepairAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleRepairOrder(w http.ResponseWriter, r *http.Request) {
	result, err := s.settlement.RepairOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func pageParams(r *http.Request) (int, int) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return limit, offset
}
