package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/biped-api/middleware"
	"github.com/upb/biped-api/models"
	"github.com/upb/biped-api/services"
	"github.com/upb/biped-api/services/fallback"
	"github.com/upb/biped-api/services/inference"
	"github.com/upb/biped-api/services/providers"
	"github.com/upb/biped-api/utils"
)

// InferenceService defines the completion operations the handlers need
type InferenceService interface {
	Chat(ctx context.Context, req inference.CompletionRequest) inference.CompletionResponse
	Complete(ctx context.Context, req inference.CompletionRequest) inference.CompletionResponse
	Stats(ctx context.Context) (inference.StatsReport, error)
	Lookup(ctx context.Context, requestID string) ([]*models.InferenceRequest, error)
}

// ChatRequest is the body of POST /api/v1/ai/chat. A single message is shorthand
// for one user turn.
type ChatRequest struct {
	Message   string              `json:"message,omitempty" validate:"required_without=Messages"`
	Messages  []providers.Message `json:"messages,omitempty" validate:"omitempty,max=200,dive"`
	Provider  string              `json:"provider,omitempty" validate:"omitempty,provider"`
	Fallbacks []string            `json:"fallbacks,omitempty" validate:"omitempty,dive,provider"`
	Options   providers.Options   `json:"options"`
}

// CompleteRequest is the body of POST /api/v1/ai/complete
type CompleteRequest struct {
	Prompt    string            `json:"prompt" validate:"required"`
	Provider  string            `json:"provider,omitempty" validate:"omitempty,provider"`
	Fallbacks []string          `json:"fallbacks,omitempty" validate:"omitempty,dive,provider"`
	Options   providers.Options `json:"options"`
}

// CompletionResponse is returned by both completion endpoints on success
type CompletionResponse struct {
	Response   string `json:"response"`
	Cached     bool   `json:"cached"`
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	TokensUsed *int64 `json:"tokens_used"`
	LatencyMs  int64  `json:"latency_ms"`
	RequestID  string `json:"request_id,omitempty"`
}

// InferenceHandler handles completion HTTP requests
type InferenceHandler struct {
	service InferenceService
	logger  *zap.Logger
}

// NewInferenceHandler creates a new InferenceHandler
func NewInferenceHandler(service InferenceService, logger *zap.Logger) *InferenceHandler {
	return &InferenceHandler{
		service: service,
		logger:  logger.Named("inference_handler"),
	}
}

// HandleChat handles POST /api/v1/ai/chat
func (h *InferenceHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body ChatRequest
	if err := utils.DecodeJSON(w, r, &body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.String("api_version", middleware.GetAPIVersionFromContext(ctx)),
			zap.Error(err))
		HandleServiceError(w, services.ErrInvalidInput.Wrap(err), h.logger)
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	messages := body.Messages
	if len(messages) == 0 {
		if strings.TrimSpace(body.Message) == "" {
			HandleServiceError(w, services.ErrEmptyMessages, h.logger)
			return
		}
		messages = []providers.Message{{Role: "user", Content: body.Message}}
	}

	req, err := h.newRequest(r, body.Provider, body.Fallbacks, body.Options)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	req.Messages = messages

	h.respond(w, requestID, h.service.Chat(ctx, req))
}

// HandleComplete handles POST /api/v1/ai/complete
func (h *InferenceHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var body CompleteRequest
	if err := utils.DecodeJSON(w, r, &body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.String("api_version", middleware.GetAPIVersionFromContext(ctx)),
			zap.Error(err))
		HandleServiceError(w, services.ErrInvalidInput.Wrap(err), h.logger)
		return
	}
	if err := utils.ValidateStruct(&body); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		HandleServiceError(w, services.ErrEmptyPrompt, h.logger)
		return
	}

	req, err := h.newRequest(r, body.Provider, body.Fallbacks, body.Options)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	req.Prompt = body.Prompt

	h.respond(w, requestID, h.service.Complete(ctx, req))
}

// HandleStats handles GET /api/v1/ai/stats
func (h *InferenceHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Stats(r.Context())
	if err != nil {
		if services.GetErrorType(err) == "" {
			err = services.WrapInternal("failed to load statistics", err)
		}
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := utils.WriteOK(w, report); err != nil {
		h.logger.Error("failed to write stats response", zap.Error(err))
	}
}

// HandleGetRequest handles GET /api/v1/admin/requests/{requestID}. It returns
// every persisted attempt of one request, oldest first.
func (h *InferenceHandler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	records, err := h.service.Lookup(r.Context(), requestID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if err := utils.WriteOK(w, map[string]interface{}{
		"request_id": requestID,
		"attempts":   records,
	}); err != nil {
		h.logger.Error("failed to write request lookup response", zap.Error(err))
	}
}

// newRequest builds the service request shared by both endpoints. The plan is
// only set when the caller names a provider.
func (h *InferenceHandler) newRequest(r *http.Request, provider string, fallbacks []string, opts providers.Options) (inference.CompletionRequest, error) {
	req := inference.CompletionRequest{
		Options:   opts,
		RequestID: middleware.GetRequestIDFromContext(r.Context()),
		IPAddress: getClientIP(r),
		UserAgent: r.UserAgent(),
	}

	if provider != "" || len(fallbacks) > 0 {
		plan, err := inference.BuildPlan(provider, fallbacks, fallback.Plan{})
		if err != nil {
			return req, services.ErrInvalidProvider.WithDetail("reason", err.Error())
		}
		req.Plan = &plan
	}
	return req, nil
}

// respond writes a success body, or maps the aggregate failure to a gateway status
func (h *InferenceHandler) respond(w http.ResponseWriter, requestID string, resp inference.CompletionResponse) {
	result := resp.Result
	if result.Succeeded {
		err := utils.WriteOK(w, CompletionResponse{
			Response:   result.Payload,
			Cached:     resp.Cached,
			Provider:   result.Provider.String(),
			Model:      result.Model,
			TokensUsed: result.TokensConsumed,
			LatencyMs:  result.LatencyMs(),
			RequestID:  requestID,
		})
		if err != nil {
			h.logger.Error("failed to write completion response", zap.Error(err))
		}
		return
	}

	message := "completion failed"
	if result.Failure != nil && result.Failure.Message != "" {
		message = result.Failure.Message
	}
	details := map[string]interface{}{
		"failure_kind": string(result.FailureKind()),
		"request_id":   requestID,
	}
	if result.Provider != "" {
		details["provider"] = result.Provider.String()
	}

	if err := utils.WriteError(w, failureStatus(result.FailureKind()), message, details); err != nil {
		h.logger.Error("failed to write failure response", zap.Error(err))
	}
}

// failureStatus maps a failure kind to the HTTP status returned to the client
func failureStatus(kind providers.FailureKind) int {
	switch kind {
	case providers.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case providers.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case providers.KindMissingCredential:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// getClientIP extracts the client IP address from the request.
// chi's RealIP middleware has already folded X-Forwarded-For and X-Real-IP into RemoteAddr.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
