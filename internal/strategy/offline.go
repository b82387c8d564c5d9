package strategy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// Offline messages returned when nothing better is available.
const (
	OfflineAPIMessage        = "Offline - data tidak tersedia"
	OfflineNavigationMessage = "Offline - halaman tidak tersedia"
	offlineImageStatusText   = "Image not available offline"
)

// apiEnvelope is the JSON error shape clients parse even offline.
type apiEnvelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// OfflineAPIResponse returns the 503 JSON envelope for an API request that
// could be answered neither by the network nor by the api tier.
func OfflineAPIResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(apiEnvelope{Error: true, Message: OfflineAPIMessage})
	return synthesize(req, http.StatusServiceUnavailable, "", "application/json", body)
}

// OfflineImageResponse returns an empty 503 for an image that is neither
// cached nor reachable.
func OfflineImageResponse(req *http.Request) *http.Response {
	return synthesize(req, http.StatusServiceUnavailable, offlineImageStatusText, "", nil)
}

// OfflineNavigationResponse returns the minimal offline page used when the
// shell is not cached either.
func OfflineNavigationResponse(req *http.Request) *http.Response {
	return synthesize(req, http.StatusServiceUnavailable, "", "text/html", []byte(OfflineNavigationMessage))
}

func synthesize(req *http.Request, status int, statusText, contentType string, body []byte) *http.Response {
	if statusText == "" {
		statusText = http.StatusText(status)
	}
	header := make(http.Header)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return &http.Response{
		Status:        strconv.Itoa(status) + " " + statusText,
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
