package platform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mjgate/internal/model"
)

// HTTPSink forwards interactions to the connected platform-client service
// over HTTP. It does not speak the chat platform's wire protocol itself;
// the downstream service owns that.
type HTTPSink struct {
	baseURL   string
	token     string
	channelID string
	http      *http.Client
	log       *zap.Logger
}

var _ Client = (*HTTPSink)(nil)

// NewHTTPSink builds a sink client bound to one account channel.
func NewHTTPSink(baseURL, token, channelID string, log *zap.Logger) *HTTPSink {
	return &HTTPSink{
		baseURL:   baseURL,
		token:     token,
		channelID: channelID,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
}

type sinkResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Result      string `json:"result"`
}

// do posts one interaction envelope and folds transport errors into a
// failure Message.
func (s *HTTPSink) do(ctx context.Context, op string, payload map[string]interface{}) Message {
	payload["channel_id"] = s.channelID
	body, err := json.Marshal(payload)
	if err != nil {
		return Failure(fmt.Sprintf("encode %s: %v", op, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return Failure(fmt.Sprintf("build %s: %v", op, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return Failure(fmt.Sprintf("%s: %v", op, err))
	}
	defer resp.Body.Close()

	var out sinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Failure(fmt.Sprintf("decode %s reply: %v", op, err))
	}
	if resp.StatusCode != http.StatusOK {
		s.log.Warn("sink rejected interaction",
			zap.String("op", op), zap.Int("status", resp.StatusCode),
			zap.String("description", out.Description))
		if out.Description == "" {
			out.Description = resp.Status
		}
		return Failure(out.Description)
	}
	return Message{Code: Code(out.Code), Description: out.Description, Result: out.Result}
}

func (s *HTTPSink) Imagine(ctx context.Context, prompt, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "imagine", map[string]interface{}{
		"prompt": prompt, "nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) Show(ctx context.Context, jobID, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "show", map[string]interface{}{
		"job_id": jobID, "nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) Upscale(ctx context.Context, messageID string, index int, hash string, flags int, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "upscale", map[string]interface{}{
		"message_id": messageID, "index": index, "hash": hash,
		"flags": flags, "nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) Variation(ctx context.Context, messageID string, index int, hash string, flags int, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "variation", map[string]interface{}{
		"message_id": messageID, "index": index, "hash": hash,
		"flags": flags, "nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) Reroll(ctx context.Context, messageID, hash string, flags int, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "reroll", map[string]interface{}{
		"message_id": messageID, "hash": hash, "flags": flags,
		"nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) DescribeByLink(ctx context.Context, link, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "describe", map[string]interface{}{
		"link": link, "nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) Shorten(ctx context.Context, prompt, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "shorten", map[string]interface{}{
		"prompt": prompt, "nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) Blend(ctx context.Context, fileNames []string, dims BlendDimensions, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "blend", map[string]interface{}{
		"file_names": fileNames, "dimensions": string(dims),
		"nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) Action(ctx context.Context, messageID, customID string, flags int, nonce string) Message {
	return s.do(ctx, "action", map[string]interface{}{
		"message_id": messageID, "custom_id": customID,
		"flags": flags, "nonce": nonce,
	})
}

func (s *HTTPSink) Dialog(ctx context.Context, messageID, modal, customID, prompt, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "dialog", map[string]interface{}{
		"message_id": messageID, "modal": modal, "custom_id": customID,
		"prompt": prompt, "nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) Inpaint(ctx context.Context, customID, prompt, maskBase64 string) Message {
	return s.do(ctx, "inpaint", map[string]interface{}{
		"custom_id": customID, "prompt": prompt, "mask": maskBase64,
	})
}

func (s *HTTPSink) Seed(ctx context.Context, jobHash, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "seed", map[string]interface{}{
		"hash": jobHash, "nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) SeedReaction(ctx context.Context, channelID, messageID string) Message {
	return s.do(ctx, "seed-reaction", map[string]interface{}{
		"reaction_channel_id": channelID, "message_id": messageID,
	})
}

func (s *HTTPSink) Upload(ctx context.Context, fileName string, data DataURL) Message {
	payload := map[string]interface{}{"file_name": fileName, "mime_type": data.MimeType}
	if data.URL != "" {
		payload["url"] = data.URL
	} else {
		payload["data"] = base64.StdEncoding.EncodeToString(data.Data)
	}
	return s.do(ctx, "upload", payload)
}

func (s *HTTPSink) SendImage(ctx context.Context, content, fileName string) Message {
	return s.do(ctx, "send-image", map[string]interface{}{
		"content": content, "file_name": fileName,
	})
}

func (s *HTTPSink) Setting(ctx context.Context, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "setting", map[string]interface{}{
		"nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) Info(ctx context.Context, nonce string, variant model.BotVariant) Message {
	return s.do(ctx, "info", map[string]interface{}{
		"nonce": nonce, "bot": string(variant),
	})
}

func (s *HTTPSink) SettingButton(ctx context.Context, nonce, customID string, variant model.BotVariant) Message {
	return s.do(ctx, "setting-button", map[string]interface{}{
		"nonce": nonce, "custom_id": customID, "bot": string(variant),
	})
}

func (s *HTTPSink) SettingSelect(ctx context.Context, nonce, value string) Message {
	return s.do(ctx, "setting-select", map[string]interface{}{
		"nonce": nonce, "value": value,
	})
}
