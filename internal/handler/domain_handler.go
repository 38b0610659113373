package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/certman/internal/middleware"
	"github.com/hitoshi/certman/internal/model"
)

// DomainServiceInterface はドメインハンドラーが必要とするサービスインターフェース。
type DomainServiceInterface interface {
	// AddDomain は証明書を取得してドメインを登録し、登録後の一覧を返す。
	AddDomain(ctx context.Context, name string) ([]model.DomainRecord, error)
	// CheckAndSaveDomain は証明書の有効期間を確認して登録し、そのレコードを返す。
	CheckAndSaveDomain(ctx context.Context, name string) (model.DomainRecord, error)
	// ListDomains は登録済みドメインの一覧を返す。
	ListDomains(ctx context.Context) ([]model.DomainRecord, error)
	// RemoveDomain は指定名のドメインをすべて削除し、削除後の一覧を返す。
	RemoveDomain(ctx context.Context, name string) ([]model.DomainRecord, error)
}

// DomainHandler はドメイン登録簿のHTTPハンドラー。
type DomainHandler struct {
	service DomainServiceInterface
}

// NewDomainHandler はDomainHandlerを生成する。
func NewDomainHandler(service DomainServiceInterface) *DomainHandler {
	return &DomainHandler{service: service}
}

// domainRequest はドメイン登録・確認リクエストのボディ。
type domainRequest struct {
	Domain string `json:"domain"`
}

// domainListResponse はドメイン一覧のAPIレスポンス。
type domainListResponse struct {
	Domains []model.DomainRecord `json:"domains"`
}

// ListDomains は登録済みドメインの一覧を返す。
// GET /api/domains
func (h *DomainHandler) ListDomains(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListDomains(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDomainListResponse(records))
}

// AddDomain はドメインを登録する。
// POST /api/domains
func (h *DomainHandler) AddDomain(w http.ResponseWriter, r *http.Request) {
	name, ok := readDomainInput(w, r)
	if !ok {
		return
	}

	records, err := h.service.AddDomain(r.Context(), name)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDomainListResponse(records))
}

// RemoveDomain は指定名のドメインを削除する。該当がなくても成功する。
// DELETE /api/domains/{domain}
func (h *DomainHandler) RemoveDomain(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.RemoveDomain(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDomainListResponse(records))
}

// CheckDomain は証明書の有効期間を確認して登録し、そのレコードだけを返す。
// POST /api/check
func (h *DomainHandler) CheckDomain(w http.ResponseWriter, r *http.Request) {
	name, ok := readDomainInput(w, r)
	if !ok {
		return
	}

	record, err := h.service.CheckAndSaveDomain(r.Context(), name)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// readDomainInput はJSONまたはフォームからドメイン名を読み取る。
// 解析に失敗した場合はエラーレスポンスを書き込みfalseを返す。
func readDomainInput(w http.ResponseWriter, r *http.Request) (string, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			middleware.WriteError(w, model.NewInvalidRequestError(err))
			return "", false
		}
		return r.PostFormValue("domain"), true
	default:
		var req domainRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			middleware.WriteError(w, model.NewInvalidRequestError(err))
			return "", false
		}
		return req.Domain, true
	}
}

func toDomainListResponse(records []model.DomainRecord) domainListResponse {
	if records == nil {
		records = []model.DomainRecord{}
	}
	return domainListResponse{Domains: records}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
