package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mjgate/internal/model"
)

func TestHTTPSinkEnvelope(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(sinkResponse{Code: int(CodeSuccess), Description: "success"})
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "tok", "chan-1", zap.NewNop())
	msg := sink.Imagine(context.Background(), "a cat", "nonce-1", model.VariantMidjourney)

	require.True(t, msg.OK())
	assert.Equal(t, "/imagine", gotPath)
	assert.Equal(t, "a cat", gotBody["prompt"])
	assert.Equal(t, "nonce-1", gotBody["nonce"])
	assert.Equal(t, "chan-1", gotBody["channel_id"])
}

func TestHTTPSinkFoldsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(sinkResponse{Code: int(CodeValidationError), Description: "bad prompt"})
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, "", "chan-1", zap.NewNop())
	msg := sink.Imagine(context.Background(), "x", "n", model.VariantMidjourney)

	assert.False(t, msg.OK())
	assert.Equal(t, CodeFailure, msg.Code)
	assert.Contains(t, msg.Description, "bad prompt")
}

func TestHTTPSinkFoldsTransportError(t *testing.T) {
	sink := NewHTTPSink("http://127.0.0.1:1", "", "chan-1", zap.NewNop())
	msg := sink.Imagine(context.Background(), "x", "n", model.VariantMidjourney)
	assert.Equal(t, CodeFailure, msg.Code)
}
