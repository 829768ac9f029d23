package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mjgate/internal/model"
	"mjgate/internal/platform"
	"mjgate/internal/service"
)

const maxBodySize = 16 << 20 // inline base64 images make bodies large

// decode reads, schema-validates and unmarshals the request body. On
// failure it has already written the error response.
func (d *Dependencies) decode(w http.ResponseWriter, r *http.Request, schema string, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", "cannot read body", d.Log)
		return false
	}
	var generic interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", d.Log)
		return false
	}
	if err := d.Validator.Validate(schema, generic); err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error(), d.Log)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		WriteError(w, http.StatusBadRequest, "bad_request", "invalid json", d.Log)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// submitBody is the shared routing envelope of every submit payload.
type submitBody struct {
	BotType       string        `json:"botType"`
	State         string        `json:"state"`
	AccountFilter *model.Filter `json:"accountFilter"`
	InstanceIDs   []string      `json:"instanceIds"`
	Priority      bool          `json:"priority"`
}

func (b submitBody) toRequest() service.SubmitRequest {
	variant := model.VariantMidjourney
	if b.BotType == string(model.VariantNiji) {
		variant = model.VariantNiji
	}
	return service.SubmitRequest{
		Variant:     variant,
		Filter:      b.AccountFilter,
		State:       b.State,
		Priority:    b.Priority,
		InstanceIDs: b.InstanceIDs,
	}
}

func (d *Dependencies) submitImagine(w http.ResponseWriter, r *http.Request) {
	var body struct {
		submitBody
		Prompt      string   `json:"prompt"`
		Base64Array []string `json:"base64Array"`
	}
	if !d.decode(w, r, "imagine", &body) {
		return
	}
	writeJSON(w, d.Service.SubmitImagine(r.Context(), service.ImagineRequest{
		SubmitRequest: body.toRequest(),
		Prompt:        body.Prompt,
		Base64Array:   body.Base64Array,
	}))
}

func (d *Dependencies) submitShow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		submitBody
		JobID string `json:"jobId"`
	}
	if !d.decode(w, r, "show", &body) {
		return
	}
	writeJSON(w, d.Service.ShowTask(r.Context(), body.toRequest(), body.JobID))
}

func (d *Dependencies) submitChange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		submitBody
		TaskID string `json:"taskId"`
		Action string `json:"action"`
		Index  int    `json:"index"`
	}
	if !d.decode(w, r, "change", &body) {
		return
	}
	req := service.ChangeRequest{
		SubmitRequest: body.toRequest(),
		TaskID:        body.TaskID,
		Index:         body.Index,
	}
	var res model.SubmitResult
	switch body.Action {
	case "UPSCALE":
		res = d.Service.SubmitUpscale(r.Context(), req)
	case "VARIATION":
		res = d.Service.SubmitVariation(r.Context(), req)
	case "REROLL":
		res = d.Service.SubmitReroll(r.Context(), req.SubmitRequest, req.TaskID)
	}
	writeJSON(w, res)
}

func (d *Dependencies) submitDescribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		submitBody
		Base64 string `json:"base64"`
		Link   string `json:"link"`
	}
	if !d.decode(w, r, "describe", &body) {
		return
	}
	writeJSON(w, d.Service.SubmitDescribe(r.Context(), service.DescribeRequest{
		SubmitRequest: body.toRequest(),
		Base64:        body.Base64,
		Link:          body.Link,
	}))
}

func (d *Dependencies) submitShorten(w http.ResponseWriter, r *http.Request) {
	var body struct {
		submitBody
		Prompt string `json:"prompt"`
	}
	if !d.decode(w, r, "shorten", &body) {
		return
	}
	writeJSON(w, d.Service.SubmitShorten(r.Context(), body.toRequest(), body.Prompt))
}

func (d *Dependencies) submitBlend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		submitBody
		Base64Array []string `json:"base64Array"`
		Dimensions  string   `json:"dimensions"`
	}
	if !d.decode(w, r, "blend", &body) {
		return
	}
	var dims platform.BlendDimensions
	switch body.Dimensions {
	case "PORTRAIT":
		dims = platform.BlendPortrait
	case "LANDSCAPE":
		dims = platform.BlendLandscape
	case "SQUARE":
		dims = platform.BlendSquare
	}
	writeJSON(w, d.Service.SubmitBlend(r.Context(), service.BlendRequest{
		SubmitRequest: body.toRequest(),
		Base64Array:   body.Base64Array,
		Dimensions:    dims,
	}))
}

func (d *Dependencies) submitAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		submitBody
		TaskID   string `json:"taskId"`
		CustomID string `json:"customId"`
	}
	if !d.decode(w, r, "action", &body) {
		return
	}
	writeJSON(w, d.Service.SubmitAction(r.Context(), service.ActionRequest{
		SubmitRequest: body.toRequest(),
		TaskID:        body.TaskID,
		CustomID:      body.CustomID,
	}))
}

func (d *Dependencies) submitModal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskID     string `json:"taskId"`
		Prompt     string `json:"prompt"`
		MaskBase64 string `json:"maskBase64"`
	}
	if !d.decode(w, r, "modal", &body) {
		return
	}
	writeJSON(w, d.Service.SubmitDialog(r.Context(), service.DialogRequest{
		TaskID:     body.TaskID,
		Prompt:     body.Prompt,
		MaskBase64: body.MaskBase64,
	}))
}

func (d *Dependencies) submitVideoExtend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		submitBody
		TaskID string `json:"taskId"`
		Index  int    `json:"index"`
		Motion string `json:"motion"`
		Prompt string `json:"prompt"`
	}
	if !d.decode(w, r, "video-extend", &body) {
		return
	}
	writeJSON(w, d.Service.SubmitVideoExtend(r.Context(), service.VideoExtendRequest{
		SubmitRequest: body.toRequest(),
		TaskID:        body.TaskID,
		Index:         body.Index,
		Motion:        body.Motion,
		Prompt:        body.Prompt,
	}))
}

func (d *Dependencies) fetchTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := d.Tasks.Get(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "task not found", d.Log)
		return
	}
	writeJSON(w, t)
}

func (d *Dependencies) taskSeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, d.Service.SubmitSeed(r.Context(), id))
}

func (d *Dependencies) accountSync(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	if err := d.Service.SyncAccountInfo(r.Context(), channelID); err != nil {
		WriteError(w, http.StatusBadRequest, "sync_failed", err.Error(), d.Log)
		return
	}
	d.Log.Info("account synced",
		zap.String("channel_id", channelID),
		zap.String("subject", Subject(r.Context())))
	writeJSON(w, map[string]string{"status": "ok"})
}

func (d *Dependencies) accountVersion(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Version == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", "version is required", d.Log)
		return
	}
	if err := d.Service.ChangeVersion(r.Context(), channelID, body.Version); err != nil {
		WriteError(w, http.StatusBadRequest, "version_failed", err.Error(), d.Log)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (d *Dependencies) accountAction(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelId")
	var body struct {
		CustomID string `json:"customId"`
		BotType  string `json:"botType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CustomID == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", "customId is required", d.Log)
		return
	}
	variant := model.VariantMidjourney
	if body.BotType == string(model.VariantNiji) {
		variant = model.VariantNiji
	}
	if err := d.Service.AccountAction(r.Context(), channelID, body.CustomID, variant); err != nil {
		WriteError(w, http.StatusBadRequest, "action_failed", err.Error(), d.Log)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
