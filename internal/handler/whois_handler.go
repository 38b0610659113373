package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/certman/internal/middleware"
	"github.com/hitoshi/certman/internal/model"
	"github.com/hitoshi/certman/internal/whois"
)

// WhoisLookuper はWHOIS照会のインターフェース。
type WhoisLookuper interface {
	Lookup(ctx context.Context, domain string) (*whois.Info, error)
}

// DomainValidator はドメイン名の検証インターフェース。
type DomainValidator interface {
	Validate(name string) error
}

// WhoisHandler はWHOIS照会のHTTPハンドラー。結果は永続化しない。
type WhoisHandler struct {
	client    WhoisLookuper
	validator DomainValidator
}

// NewWhoisHandler はWhoisHandlerを生成する。
func NewWhoisHandler(client WhoisLookuper, validator DomainValidator) *WhoisHandler {
	return &WhoisHandler{client: client, validator: validator}
}

// Lookup はドメインの登録情報を返す。
// GET /api/whois/{domain}
func (h *WhoisHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		middleware.WriteError(w, model.NewInvalidDomainError("ドメイン名が空です"))
		return
	}
	if h.validator != nil {
		if err := h.validator.Validate(domain); err != nil {
			middleware.WriteError(w, model.NewInvalidDomainError(err.Error()))
			return
		}
	}

	info, err := h.client.Lookup(r.Context(), domain)
	if err != nil {
		middleware.WriteError(w, model.NewWhoisFailedError(domain, err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}
