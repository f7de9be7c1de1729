// Package api exposes the task orchestrator over HTTP: one route per
// submit* entrypoint, plus a task lookup, mirroring spec.md §6's submit
// API shape.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"quel-drawcore/internal/model"
	"quel-drawcore/internal/orchestrator"
	"quel-drawcore/internal/store"
)

// Dependencies are the collaborators handlers are built against.
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Tasks        store.TaskStore
	Log          *zap.Logger
}

// NewRouter builds the submit API's mux.Router.
func NewRouter(deps Dependencies) *mux.Router {
	h := &handlers{deps: deps}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/imagine", h.submitImagine).Methods(http.MethodPost)
	r.HandleFunc("/v1/describe", h.submitDescribe).Methods(http.MethodPost)
	r.HandleFunc("/v1/blend", h.submitBlend).Methods(http.MethodPost)
	r.HandleFunc("/v1/shorten", h.submitShorten).Methods(http.MethodPost)
	r.HandleFunc("/v1/edit", h.submitEdit).Methods(http.MethodPost)
	r.HandleFunc("/v1/retexture", h.submitRetexture).Methods(http.MethodPost)
	r.HandleFunc("/v1/button", h.submitButton).Methods(http.MethodPost)
	r.HandleFunc("/v1/modal/{taskId}", h.submitModal).Methods(http.MethodPost)
	r.HandleFunc("/v1/seed", h.submitSeed).Methods(http.MethodPost)
	r.HandleFunc("/v1/tasks/{taskId}", h.getTask).Methods(http.MethodGet)
	return r
}

type handlers struct {
	deps Dependencies
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(code model.Code) int {
	switch code {
	case model.CodeSuccess, model.CodeExisted, model.CodeInQueue:
		return http.StatusOK
	case model.CodeValidationError, model.CodeBannedPrompt:
		return http.StatusBadRequest
	case model.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type imagineBody struct {
	Prompt         string              `json:"prompt"`
	BotFamily      model.BotFamily     `json:"botFamily"`
	AccountFilter  model.AccountFilter `json:"accountFilter"`
	UploadDataURLs []string            `json:"uploadDataUrls"`
}

func (h *handlers) submitImagine(w http.ResponseWriter, r *http.Request) {
	var body imagineBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := h.deps.Orchestrator.SubmitImagine(r.Context(), orchestrator.ImagineRequest{
		Prompt:         body.Prompt,
		BotFamily:      body.BotFamily,
		AccountFilter:  body.AccountFilter,
		UploadDataURLs: body.UploadDataURLs,
	})
	writeJSON(w, statusFor(result.Code), result)
}

type describeBody struct {
	BotFamily     model.BotFamily     `json:"botFamily"`
	AccountFilter model.AccountFilter `json:"accountFilter"`
	ImageURL      string              `json:"imageUrl"`
	UploadDataURL string              `json:"uploadDataUrl"`
}

func (h *handlers) submitDescribe(w http.ResponseWriter, r *http.Request) {
	var body describeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := h.deps.Orchestrator.SubmitDescribe(r.Context(), orchestrator.DescribeRequest{
		BotFamily:     body.BotFamily,
		AccountFilter: body.AccountFilter,
		ImageURL:      body.ImageURL,
		UploadDataURL: body.UploadDataURL,
	})
	writeJSON(w, statusFor(result.Code), result)
}

type blendBody struct {
	BotFamily      model.BotFamily     `json:"botFamily"`
	AccountFilter  model.AccountFilter `json:"accountFilter"`
	UploadDataURLs []string            `json:"uploadDataUrls"`
}

func (h *handlers) submitBlend(w http.ResponseWriter, r *http.Request) {
	var body blendBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := h.deps.Orchestrator.SubmitBlend(r.Context(), orchestrator.BlendRequest{
		BotFamily:      body.BotFamily,
		AccountFilter:  body.AccountFilter,
		UploadDataURLs: body.UploadDataURLs,
	})
	writeJSON(w, statusFor(result.Code), result)
}

type shortenBody struct {
	BotFamily     model.BotFamily     `json:"botFamily"`
	AccountFilter model.AccountFilter `json:"accountFilter"`
	Prompt        string              `json:"prompt"`
}

func (h *handlers) submitShorten(w http.ResponseWriter, r *http.Request) {
	var body shortenBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := h.deps.Orchestrator.SubmitShorten(r.Context(), orchestrator.ShortenRequest{
		BotFamily:     body.BotFamily,
		AccountFilter: body.AccountFilter,
		Prompt:        body.Prompt,
	})
	writeJSON(w, statusFor(result.Code), result)
}

type editBody struct {
	Prompt         string              `json:"prompt"`
	BotFamily      model.BotFamily     `json:"botFamily"`
	AccountFilter  model.AccountFilter `json:"accountFilter"`
	UploadDataURLs []string            `json:"uploadDataUrls"`
}

func (h *handlers) submitEdit(w http.ResponseWriter, r *http.Request) {
	var body editBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := h.deps.Orchestrator.SubmitEdit(r.Context(), orchestrator.EditRequest{
		Prompt:         body.Prompt,
		BotFamily:      body.BotFamily,
		AccountFilter:  body.AccountFilter,
		UploadDataURLs: body.UploadDataURLs,
	})
	writeJSON(w, statusFor(result.Code), result)
}

func (h *handlers) submitRetexture(w http.ResponseWriter, r *http.Request) {
	var body editBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := h.deps.Orchestrator.SubmitRetexture(r.Context(), orchestrator.RetextureRequest{
		Prompt:         body.Prompt,
		BotFamily:      body.BotFamily,
		AccountFilter:  body.AccountFilter,
		UploadDataURLs: body.UploadDataURLs,
	})
	writeJSON(w, statusFor(result.Code), result)
}

type buttonBody struct {
	ChannelID    string          `json:"channelId"`
	CustomID     string          `json:"customId"`
	MessageID    string          `json:"messageId"`
	MessageFlags int             `json:"flags"`
	BotFamily    model.BotFamily `json:"botFamily"`
	ParentPrompt string          `json:"parentPrompt"`
}

func (h *handlers) submitButton(w http.ResponseWriter, r *http.Request) {
	var body buttonBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := h.deps.Orchestrator.SubmitButton(r.Context(), orchestrator.ButtonRequest{
		ChannelID:    body.ChannelID,
		CustomID:     body.CustomID,
		MessageID:    body.MessageID,
		MessageFlags: body.MessageFlags,
		BotFamily:    body.BotFamily,
		ParentPrompt: body.ParentPrompt,
	})
	writeJSON(w, statusFor(result.Code), result)
}

func (h *handlers) submitModal(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]
	result := h.deps.Orchestrator.SubmitModal(r.Context(), taskID)
	writeJSON(w, statusFor(result.Code), result)
}

type seedBody struct {
	BotFamily   model.BotFamily `json:"botFamily"`
	MessageHash string          `json:"messageHash"`
}

func (h *handlers) submitSeed(w http.ResponseWriter, r *http.Request) {
	var body seedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	result := h.deps.Orchestrator.SubmitSeed(r.Context(), orchestrator.SeedRequest{
		BotFamily:   body.BotFamily,
		MessageHash: body.MessageHash,
	})
	writeJSON(w, statusFor(result.Code), result)
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]
	task, err := h.deps.Tasks.GetTask(r.Context(), taskID)
	if err != nil {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}
