// Package httpapi exposes the vault and recovery state machines over a JSON
// HTTP API. Handlers translate requests into service calls and sentinel
// errors into status codes; all protocol rules live in the services.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/legator/legator/internal/common"
	"github.com/legator/legator/internal/logging"
	"github.com/legator/legator/internal/quorum"
	"github.com/legator/legator/internal/server/models"
	"github.com/legator/legator/internal/server/services"
)

// VaultService is the subset of the vault service the API calls.
type VaultService interface {
	CreateVault(ctx context.Context, ownerID string, params services.CreateVaultParams) (*models.Vault, error)
	GetVault(ctx context.Context, id string) (*models.Vault, error)
	CheckIn(ctx context.Context, vaultID, callerID string) (*models.Vault, error)
	AttestDeath(ctx context.Context, vaultID, guardianID string) (*quorum.Result, error)
	Claim(ctx context.Context, vaultID, beneficiaryID string) (string, error)
	UpdateContent(ctx context.Context, vaultID, callerID, contentPointer string) error
	Cancel(ctx context.Context, vaultID, callerID string) error
	Refresh(ctx context.Context, vaultID string) (*models.Vault, error)
	TimeUntilDeadline(ctx context.Context, vaultID string) (time.Duration, error)
	TimeUntilTrigger(ctx context.Context, vaultID string) (time.Duration, error)
}

// RecoveryService is the subset of the recovery service the API calls.
type RecoveryService interface {
	Initiate(ctx context.Context, ownerID string, params services.InitiateRecoveryParams) (*models.RecoverySetup, []services.InvitationDelivery, error)
	GetSetup(ctx context.Context, id string) (*models.RecoverySetup, error)
	Attest(ctx context.Context, setupID, keyID string, signature []byte) (*quorum.Result, error)
	Complete(ctx context.Context, setupID, callerID string, recoveredBalance int64) (*models.RecoveryFee, error)
	Cancel(ctx context.Context, setupID, callerID string) error
	ViewInvitation(ctx context.Context, token string) (*models.RecoveryKeyInvitation, error)
	AcceptInvitation(ctx context.Context, token string) (*models.RecoveryKeyInvitation, error)
}

// UserService is the subset of the user service the API calls.
type UserService interface {
	Register(ctx context.Context, userName, password string) (*models.User, error)
	Login(ctx context.Context, userName, password string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

// ContentService issues presigned URLs for content blobs.
type ContentService interface {
	GetPresignedPutUrl(ctx context.Context) (string, string, error)
	GetPresignedGetUrl(ctx context.Context, key string) (string, error)
}

type Handler struct {
	vaults     VaultService
	recoveries RecoveryService
	users      UserService
	content    ContentService
	logger     logging.Logger
}

func NewHandler(vaults VaultService, recoveries RecoveryService, users UserService, content ContentService, logger logging.Logger) *Handler {
	return &Handler{
		vaults:     vaults,
		recoveries: recoveries,
		users:      users,
		content:    content,
		logger:     logger,
	}
}

// --- DTOs ---

type CredentialsRequest struct {
	UserName string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type CreateVaultRequest struct {
	CheckInIntervalSeconds int64    `json:"check_in_interval_seconds"`
	GracePeriodSeconds     int64    `json:"grace_period_seconds"`
	Beneficiaries          []string `json:"beneficiaries"`
	Guardians              []string `json:"guardians"`
	ContentPointer         string   `json:"content_pointer"`
}

type VaultResponse struct {
	ID                     string             `json:"id"`
	OwnerID                string             `json:"owner_id"`
	Status                 models.VaultStatus `json:"status"`
	CheckInIntervalSeconds int64              `json:"check_in_interval_seconds"`
	GracePeriodSeconds     int64              `json:"grace_period_seconds"`
	Beneficiaries          []string           `json:"beneficiaries"`
	Guardians              []string           `json:"guardians"`
	ContentPointer         string             `json:"content_pointer,omitempty"`
	LastCheckIn            time.Time          `json:"last_check_in"`
	Deadline               time.Time          `json:"deadline"`
	TriggerAt              time.Time          `json:"trigger_at"`
}

type AttestResponse struct {
	Count     int  `json:"count"`
	Reached   bool `json:"reached"`
	Triggered bool `json:"triggered"`
}

type ClaimResponse struct {
	ContentPointer string `json:"content_pointer"`
	DownloadURL    string `json:"download_url,omitempty"`
}

type UpdateContentRequest struct {
	ContentPointer string `json:"content_pointer"`
}

type CountdownResponse struct {
	UntilDeadlineSeconds int64 `json:"until_deadline_seconds"`
	UntilTriggerSeconds  int64 `json:"until_trigger_seconds"`
}

type RecoveryKeyRequest struct {
	KeyID   string `json:"key_id"`
	Contact string `json:"contact"`
}

type InitiateRecoveryRequest struct {
	WalletID        string               `json:"wallet_id"`
	Keys            []RecoveryKeyRequest `json:"keys"`
	EncryptedSecret []byte               `json:"encrypted_secret"`
	FeePercentage   int                  `json:"fee_percentage,omitempty"`
}

type RecoveryResponse struct {
	ID            string                `json:"id"`
	WalletID      string                `json:"wallet_id"`
	OwnerID       string                `json:"owner_id"`
	Status        models.RecoveryStatus `json:"status"`
	FeePercentage int                   `json:"fee_percentage"`
	CreatedAt     time.Time             `json:"created_at"`
}

type InitiateRecoveryResponse struct {
	Setup       RecoveryResponse     `json:"setup"`
	Invitations []InvitationDelivery `json:"invitations"`
}

type InvitationDelivery struct {
	Contact string `json:"contact"`
	Token   string `json:"token"`
}

type RecoveryAttestRequest struct {
	KeyID     string `json:"key_id"`
	Signature []byte `json:"signature"`
}

type CompleteRecoveryRequest struct {
	RecoveredBalance int64 `json:"recovered_balance"`
}

type RecoveryFeeResponse struct {
	RecoveredBalance int64  `json:"recovered_balance"`
	FeePercentage    int    `json:"fee_percentage"`
	FeeAmount        int64  `json:"fee_amount"`
	PaymentStatus    string `json:"payment_status"`
}

type InvitationResponse struct {
	SetupID   string    `json:"setup_id"`
	Contact   string    `json:"contact"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

type UploadURLResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type DownloadURLResponse struct {
	URL string `json:"url"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// --- auth handlers ---

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserName == "" || req.Password == "" {
		h.error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := h.users.Register(r.Context(), req.UserName, req.Password)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusCreated, map[string]string{"id": u.ID, "username": u.UserName})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.users.Login(r.Context(), req.UserName, req.Password)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, TokenPairResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.users.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, TokenPairResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// --- vault handlers ---

func (h *Handler) CreateVault(w http.ResponseWriter, r *http.Request) {
	var req CreateVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	vault, err := h.vaults.CreateVault(r.Context(), UserID(r.Context()), services.CreateVaultParams{
		CheckInInterval: time.Duration(req.CheckInIntervalSeconds) * time.Second,
		GracePeriod:     time.Duration(req.GracePeriodSeconds) * time.Second,
		Beneficiaries:   req.Beneficiaries,
		Guardians:       req.Guardians,
		ContentPointer:  req.ContentPointer,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusCreated, h.vaultResponse(vault, UserID(r.Context())))
}

func (h *Handler) GetVault(w http.ResponseWriter, r *http.Request) {
	vault, err := h.vaults.GetVault(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, h.vaultResponse(vault, UserID(r.Context())))
}

func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	vault, err := h.vaults.CheckIn(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, h.vaultResponse(vault, UserID(r.Context())))
}

func (h *Handler) AttestDeath(w http.ResponseWriter, r *http.Request) {
	res, err := h.vaults.AttestDeath(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, AttestResponse{Count: res.Count, Reached: res.Reached, Triggered: res.Reached})
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	pointer, err := h.vaults.Claim(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := ClaimResponse{ContentPointer: pointer}
	if h.content != nil {
		// Best-effort: the claim stands even if the download link cannot be
		// signed right now.
		if url, err := h.content.GetPresignedGetUrl(r.Context(), pointer); err == nil {
			resp.DownloadURL = url
		} else if h.logger != nil {
			h.logger.Warn(r.Context(), "error presigning claimed content", "error", err.Error())
		}
	}
	h.json(w, http.StatusOK, resp)
}

func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	var req UpdateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.vaults.UpdateContent(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()), req.ContentPointer); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelVault(w http.ResponseWriter, r *http.Request) {
	if err := h.vaults.Cancel(r.Context(), chi.URLParam(r, "id"), UserID(r.Context())); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RefreshVault(w http.ResponseWriter, r *http.Request) {
	vault, err := h.vaults.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, h.vaultResponse(vault, UserID(r.Context())))
}

func (h *Handler) Countdown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	untilDeadline, err := h.vaults.TimeUntilDeadline(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	untilTrigger, err := h.vaults.TimeUntilTrigger(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, CountdownResponse{
		UntilDeadlineSeconds: int64(untilDeadline.Seconds()),
		UntilTriggerSeconds:  int64(untilTrigger.Seconds()),
	})
}

// --- recovery handlers ---

func (h *Handler) InitiateRecovery(w http.ResponseWriter, r *http.Request) {
	var req InitiateRecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	keys := make([]models.RecoveryKey, 0, len(req.Keys))
	for _, k := range req.Keys {
		keys = append(keys, models.RecoveryKey{KeyID: k.KeyID, Contact: k.Contact})
	}

	setup, deliveries, err := h.recoveries.Initiate(r.Context(), UserID(r.Context()), services.InitiateRecoveryParams{
		WalletID:        req.WalletID,
		Keys:            keys,
		EncryptedSecret: req.EncryptedSecret,
		FeePercentage:   req.FeePercentage,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	resp := InitiateRecoveryResponse{Setup: recoveryResponse(setup)}
	for _, d := range deliveries {
		resp.Invitations = append(resp.Invitations, InvitationDelivery{Contact: d.Contact, Token: d.Token})
	}
	h.json(w, http.StatusCreated, resp)
}

func (h *Handler) GetRecovery(w http.ResponseWriter, r *http.Request) {
	setup, err := h.recoveries.GetSetup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, recoveryResponse(setup))
}

// AttestRecovery is unauthenticated: a recovery exists precisely because the
// owner lost their credentials. The signature is the credential.
func (h *Handler) AttestRecovery(w http.ResponseWriter, r *http.Request) {
	var req RecoveryAttestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.recoveries.Attest(r.Context(), chi.URLParam(r, "id"), req.KeyID, req.Signature)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, AttestResponse{Count: res.Count, Reached: res.Reached, Triggered: res.Reached})
}

func (h *Handler) CompleteRecovery(w http.ResponseWriter, r *http.Request) {
	var req CompleteRecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	fee, err := h.recoveries.Complete(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()), req.RecoveredBalance)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, RecoveryFeeResponse{
		RecoveredBalance: fee.RecoveredBalance,
		FeePercentage:    fee.FeePercentage,
		FeeAmount:        fee.FeeAmount,
		PaymentStatus:    string(fee.PaymentStatus),
	})
}

func (h *Handler) CancelRecovery(w http.ResponseWriter, r *http.Request) {
	if err := h.recoveries.Cancel(r.Context(), chi.URLParam(r, "id"), UserID(r.Context())); err != nil {
		h.serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ViewInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.recoveries.ViewInvitation(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, invitationResponse(inv))
}

func (h *Handler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.recoveries.AcceptInvitation(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, invitationResponse(inv))
}

// --- content handlers ---

func (h *Handler) UploadURL(w http.ResponseWriter, r *http.Request) {
	key, url, err := h.content.GetPresignedPutUrl(r.Context())
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, UploadURLResponse{Key: key, URL: url})
}

func (h *Handler) DownloadURL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.error(w, http.StatusBadRequest, "key is required")
		return
	}

	url, err := h.content.GetPresignedGetUrl(r.Context(), key)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.json(w, http.StatusOK, DownloadURLResponse{URL: url})
}

// --- helpers ---

func (h *Handler) vaultResponse(v *models.Vault, callerID string) VaultResponse {
	resp := VaultResponse{
		ID:                     v.ID,
		OwnerID:                v.OwnerID,
		Status:                 v.Status,
		CheckInIntervalSeconds: int64(v.CheckInInterval.Seconds()),
		GracePeriodSeconds:     int64(v.GracePeriod.Seconds()),
		Beneficiaries:          v.Beneficiaries,
		Guardians:              v.Guardians,
		LastCheckIn:            v.LastCheckIn,
		Deadline:               v.Deadline(),
		TriggerAt:              v.TriggerAt(),
	}
	// The pointer is disclosed to beneficiaries through Claim only.
	if callerID == v.OwnerID {
		resp.ContentPointer = v.ContentPointer
	}
	return resp
}

func recoveryResponse(s *models.RecoverySetup) RecoveryResponse {
	return RecoveryResponse{
		ID:            s.ID,
		WalletID:      s.WalletID,
		OwnerID:       s.OwnerID,
		Status:        s.Status,
		FeePercentage: s.FeePercentage,
		CreatedAt:     s.CreatedAt,
	}
}

func invitationResponse(inv *models.RecoveryKeyInvitation) InvitationResponse {
	return InvitationResponse{
		SetupID:   inv.SetupID,
		Contact:   inv.Contact,
		Status:    string(inv.Status),
		ExpiresAt: inv.ExpiresAt,
	}
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, ErrorResponse{Error: message})
}

func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError && h.logger != nil {
		h.logger.Error(r.Context(), "internal error", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		h.error(w, status, "internal error")
		return
	}
	h.error(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidCheckInInterval),
		errors.Is(err, common.ErrInvalidGracePeriod),
		errors.Is(err, common.ErrInvalidBeneficiaryCount),
		errors.Is(err, common.ErrInvalidBeneficiary),
		errors.Is(err, common.ErrDuplicateBeneficiary),
		errors.Is(err, common.ErrInvalidGuardian),
		errors.Is(err, common.ErrInvalidContentPointer),
		errors.Is(err, common.ErrInvalidWalletID),
		errors.Is(err, common.ErrInvalidFeePercentage),
		errors.Is(err, common.ErrInvalidRecoveryKey):
		return http.StatusBadRequest

	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return http.StatusUnauthorized

	case errors.Is(err, quorum.ErrNotAuthorizedParty),
		errors.Is(err, common.ErrNotBeneficiary):
		return http.StatusForbidden

	case errors.Is(err, common.ErrorNotFound),
		errors.Is(err, common.ErrVaultNotFound):
		return http.StatusNotFound

	case errors.Is(err, common.ErrInvalidStatus),
		errors.Is(err, common.ErrNotReadyForClaim),
		errors.Is(err, common.ErrAlreadyClaimed),
		errors.Is(err, common.ErrRecoveryConflict),
		errors.Is(err, common.ErrInvitationUsed),
		errors.Is(err, quorum.ErrAlreadyAttested):
		return http.StatusConflict

	case errors.Is(err, common.ErrInvitationExpired):
		return http.StatusGone

	case errors.Is(err, quorum.ErrAttestationCooldown):
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}
