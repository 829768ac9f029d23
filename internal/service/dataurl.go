package service

import (
	"encoding/base64"
	"fmt"
	"strings"

	"mjgate/internal/platform"
)

// decodeDataURL accepts either a data: URL with base64 payload or a plain
// http(s) link and produces the uploadable asset.
func decodeDataURL(s string) (platform.DataURL, error) {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return platform.DataURL{URL: s}, nil
	}
	if !strings.HasPrefix(s, "data:") {
		return platform.DataURL{}, fmt.Errorf("unsupported image reference %.24q", s)
	}
	rest := strings.TrimPrefix(s, "data:")
	sep := strings.Index(rest, ",")
	if sep < 0 {
		return platform.DataURL{}, fmt.Errorf("malformed data url")
	}
	meta, payload := rest[:sep], rest[sep+1:]
	mime := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return platform.DataURL{}, fmt.Errorf("decode image payload: %w", err)
	}
	return platform.DataURL{MimeType: mime, Data: data}, nil
}

func extFor(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
