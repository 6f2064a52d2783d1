package anonymizer

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// Method selects the pixel transform the service applies to detected faces.
type Method string

const (
	MethodBlur     Method = "blur"
	MethodPixelate Method = "pixelate"
	MethodMask     Method = "mask"
)

// Valid reports whether the method is one the service understands.
func (m Method) Valid() bool {
	switch m {
	case MethodBlur, MethodPixelate, MethodMask:
		return true
	}
	return false
}

// Options carries the anonymization parameters sent with every request.
type Options struct {
	Method    Method
	Intensity int
}

// query encodes the options as URL query parameters. The service binds
// method and intensity from the query string; they are additionally written
// as form fields so either server generation reads them.
func (o Options) query() string {
	values := url.Values{}
	values.Set("method", string(o.Method))
	values.Set("intensity", strconv.Itoa(o.Intensity))
	return values.Encode()
}

// Upload is one file to submit: its wire filename, content type, and content.
type Upload struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Result is a successful single-file anonymization response.
type Result struct {
	Data            []byte
	ContentType     string
	FacesDetected   int
	FramesProcessed int // videos only
	RateUsed        int
	RateRemaining   int
}

// RateLimit is the service-side usage quota for this client.
type RateLimit struct {
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// Health is the service liveness response.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// BatchResult is the per-file outcome inside a batch response.
type BatchResult struct {
	Filename      string `json:"filename"`
	Status        string `json:"status"`
	FacesDetected int    `json:"faces_detected,omitempty"`
	ImageData     string `json:"image_data,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Succeeded reports whether the service processed this file.
func (r BatchResult) Succeeded() bool {
	return r.Status == "success"
}

// DecodeImage decodes the base64 data URL the batch endpoint returns
// ("data:image/jpeg;base64,...") into raw bytes and a content type.
func (r BatchResult) DecodeImage() ([]byte, string, error) {
	rest, ok := strings.CutPrefix(r.ImageData, "data:")
	if !ok {
		return nil, "", fmt.Errorf("malformed image data for %s: missing data URL prefix", r.Filename)
	}

	contentType, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return nil, "", fmt.Errorf("malformed image data for %s: not base64 encoded", r.Filename)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("could not decode image data for %s: %w", r.Filename, err)
	}
	return data, contentType, nil
}

// BatchResponse is the aggregate batch endpoint response. The service piggybacks
// a quota snapshot on it; the orchestrator still refreshes through the
// rate-limit endpoint, which stays the single source of truth.
type BatchResponse struct {
	Results   []BatchResult `json:"results"`
	RateLimit *RateLimit    `json:"rate_limit,omitempty"`
}
