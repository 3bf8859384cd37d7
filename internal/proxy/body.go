package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/mocko-designs/gateway/internal/response"
)

// DefaultMaxBodyBytes caps parsed request bodies
const DefaultMaxBodyBytes int64 = 10 << 20

// bufferBody reads a parsed-mode body into memory, enforcing maxBytes and
// compacting JSON payloads. It returns a problem to send instead of forwarding.
func bufferBody(w http.ResponseWriter, r *http.Request, maxBytes int64) *response.Problem {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	if r.ContentLength > maxBytes {
		return payloadTooLarge()
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	_ = r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return payloadTooLarge()
		}
		return invalidBody("Request body could not be read.")
	}

	if isJSON(r.Header.Get("Content-Type")) && len(bytes.TrimSpace(data)) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return invalidBody("Request body is not valid JSON.")
		}
		data = compact.Bytes()
	}

	r.Body = io.NopCloser(bytes.NewReader(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	r.ContentLength = int64(len(data))
	r.Header.Set("Content-Length", strconv.Itoa(len(data)))
	r.TransferEncoding = nil
	return nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func payloadTooLarge() *response.Problem {
	return &response.Problem{
		Status:  http.StatusRequestEntityTooLarge,
		Message: "Payload too large",
		Code:    response.CodePayloadTooLarge,
		Details: "Request body exceeds the gateway size limit.",
	}
}

func invalidBody(details string) *response.Problem {
	return &response.Problem{
		Status:  http.StatusBadRequest,
		Message: "Invalid request body",
		Code:    response.CodeInvalidBody,
		Details: details,
	}
}
