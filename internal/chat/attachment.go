package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const maxAttachmentBytes = 10 << 20

var ErrBadAttachment = errors.New("invalid image attachment")

// Attachment is the image waiting to go out with the next submission.
type Attachment struct {
	URI       string
	MediaType string
	Data      []byte
}

// ParseAttachment decodes a data: URI with a base64 payload. Other schemes,
// file:// included, are rejected so callers can never make the server read its
// own disk.
func ParseAttachment(uri string) (Attachment, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case strings.HasPrefix(uri, "data:"):
		return parseDataURI(uri)
	case uri == "":
		return Attachment{}, fmt.Errorf("%w: empty uri", ErrBadAttachment)
	default:
		return Attachment{}, fmt.Errorf("%w: unsupported uri scheme", ErrBadAttachment)
	}
}

func parseDataURI(uri string) (Attachment, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return Attachment{}, fmt.Errorf("%w: data uri without payload", ErrBadAttachment)
	}
	params := strings.Split(meta, ";")
	if params[len(params)-1] != "base64" {
		return Attachment{}, fmt.Errorf("%w: data uri must be base64", ErrBadAttachment)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > maxAttachmentBytes {
		return Attachment{}, fmt.Errorf("%w: image too large", ErrBadAttachment)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Attachment{}, fmt.Errorf("%w: %v", ErrBadAttachment, err)
	}
	return newAttachment(uri, params[0], data)
}

func newAttachment(uri, mediaType string, data []byte) (Attachment, error) {
	if len(data) == 0 {
		return Attachment{}, fmt.Errorf("%w: empty image", ErrBadAttachment)
	}
	sniffed := http.DetectContentType(data)
	if mediaType == "" {
		mediaType = sniffed
	}
	if !strings.HasPrefix(sniffed, "image/") {
		return Attachment{}, fmt.Errorf("%w: content is %s, not an image", ErrBadAttachment, sniffed)
	}
	return Attachment{URI: uri, MediaType: mediaType, Data: data}, nil
}
