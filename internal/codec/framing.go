package codec

import (
	"errors"
	"strings"

	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

const (
	mediaTypePrefix = "application/bitcoin-"

	// TransferEncodingBinary is the only accepted Content-Transfer-Encoding.
	TransferEncodingBinary = "binary"
)

var (
	ErrBadContentType      = errors.New("unsupported content type")
	ErrBadTransferEncoding = errors.New("unsupported transfer encoding")
)

// MediaType returns the media type advertising messages of type t.
func MediaType(t domain.MessageType) string {
	return mediaTypePrefix + string(t)
}

// MediaTypes maps message types to their media types.
func MediaTypes(types []domain.MessageType) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, MediaType(t))
	}
	return out
}

// CheckFraming validates the content markers of an inbound message. Any
// ';'-separated part of contentType may carry the media type.
func CheckFraming(contentType, transferEncoding string) error {
	valid := false
	for _, part := range strings.Split(contentType, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, mediaTypePrefix) {
			continue
		}
		if domain.MessageType(strings.TrimPrefix(part, mediaTypePrefix)).Valid() {
			valid = true
			break
		}
	}
	if !valid {
		return ErrBadContentType
	}
	if strings.TrimSpace(transferEncoding) != TransferEncodingBinary {
		return ErrBadTransferEncoding
	}
	return nil
}
