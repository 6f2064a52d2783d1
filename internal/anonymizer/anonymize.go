package anonymizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, `\"`)

// createMediaPart adds a file part with an explicit Content-Type header.
// The service validates part content types against image/* and video/*, so
// CreateFormFile's application/octet-stream default would be rejected.
func createMediaPart(writer *multipart.Writer, fieldName string, u Upload) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(fieldName), quoteEscaper.Replace(u.Name)))
	header.Set("Content-Type", u.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := io.Copy(part, u.Reader); err != nil {
		return fmt.Errorf("could not copy file data: %w", err)
	}
	return nil
}

// writeOptionFields adds the method and intensity form fields.
func writeOptionFields(writer *multipart.Writer, opts Options) error {
	if err := writer.WriteField("method", string(opts.Method)); err != nil {
		return fmt.Errorf("could not write method field: %w", err)
	}
	if err := writer.WriteField("intensity", strconv.Itoa(opts.Intensity)); err != nil {
		return fmt.Errorf("could not write intensity field: %w", err)
	}
	return nil
}

// headerInt parses an integer response header, returning 0 when absent or invalid.
func headerInt(header http.Header, key string) int {
	n, err := strconv.Atoi(header.Get(key))
	if err != nil {
		return 0
	}
	return n
}

// AnonymizeImage submits a single image and returns the anonymized payload.
func (c *Client) AnonymizeImage(ctx context.Context, u Upload, opts Options) (*Result, error) {
	return c.anonymizeSingle(ctx, "image", u, opts)
}

// AnonymizeVideo submits a single video and returns the anonymized payload.
// Video processing covers every frame, so responses can take a while; the
// transport's defaults decide how long to wait.
func (c *Client) AnonymizeVideo(ctx context.Context, u Upload, opts Options) (*Result, error) {
	return c.anonymizeSingle(ctx, "video", u, opts)
}

func (c *Client) anonymizeSingle(ctx context.Context, endpoint string, u Upload, opts Options) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := createMediaPart(writer, "file", u); err != nil {
		return nil, err
	}
	if err := writeOptionFields(writer, opts); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %w", err)
	}

	url := c.resolveURL("anonymize", endpoint+"?"+opts.query())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp.StatusCode, resp.Body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	return &Result{
		Data:            data,
		ContentType:     resp.Header.Get("Content-Type"),
		FacesDetected:   headerInt(resp.Header, "X-Faces-Detected"),
		FramesProcessed: headerInt(resp.Header, "X-Frames-Processed"),
		RateUsed:        headerInt(resp.Header, "X-Rate-Limit-Used"),
		RateRemaining:   headerInt(resp.Header, "X-Rate-Limit-Remaining"),
	}, nil
}

// AnonymizeBatch submits up to ten images in one multipart request. The whole
// batch counts as a single quota use; per-file outcomes come back in the
// response, ordered by the service.
func (c *Client) AnonymizeBatch(ctx context.Context, uploads []Upload, opts Options) (*BatchResponse, error) {
	if len(uploads) == 0 {
		return nil, errors.New("no files to anonymize")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for _, u := range uploads {
		if err := createMediaPart(writer, "files", u); err != nil {
			return nil, err
		}
	}
	if err := writeOptionFields(writer, opts); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %w", err)
	}

	url := c.resolveURL("anonymize", "batch?"+opts.query())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp.StatusCode, resp.Body)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result BatchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}

	return &result, nil
}
