package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

// DownloadAttachment reads attachment content from a source attachment url.
//
// Reads stop at maxSize+1 bytes so oversized files are rejected without buffering them.
func (c *Client) DownloadAttachment(ctx context.Context, attachmentURL string, maxSize int64) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attachmentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", binaryContentType)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	if maxSize > 0 && resp.ContentLength > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", shared.ErrAttachmentTooLarge, resp.ContentLength, maxSize)
	}

	reader := io.Reader(resp.Body)
	if maxSize > 0 {
		reader = io.LimitReader(resp.Body, maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: more than %d bytes", shared.ErrAttachmentTooLarge, maxSize)
	}
	return data, nil
}

// UploadAttachment stores content on the target account.
//
// Payloads larger than chunkSize are sent with the chunked protocol: a reference is created with
// uploadType=chunked and each range is PUT with a Content-Range header. Empty payloads and payloads
// that fit in one chunk use a single POST.
func (c *Client) UploadAttachment(ctx context.Context, fileName string, data []byte, chunkSize int) (*models.AttachmentReference, error) {
	if chunkSize <= 0 || len(data) <= chunkSize {
		return c.uploadSingle(ctx, fileName, data)
	}

	params := url.Values{"uploadType": {"chunked"}, "fileName": {fileName}}
	var ref models.AttachmentReference
	if err := c.doRequest(ctx, http.MethodPost, c.endpoint(false, "/_apis/wit/attachments", params), binaryContentType, http.NoBody, &ref); err != nil {
		return nil, fmt.Errorf("failed to start chunked upload: %w", err)
	}
	if ref.ID == "" {
		return nil, fmt.Errorf("%w: chunked upload returned no attachment id", shared.ErrAPIRequest)
	}

	total := len(data)
	chunkURL := c.endpoint(false, "/_apis/wit/attachments/"+url.PathEscape(ref.ID), url.Values{"uploadType": {"chunked"}, "fileName": {fileName}})
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		headers := map[string]string{"Content-Range": contentRange(start, end, total)}

		raw, err := c.do(ctx, http.MethodPut, chunkURL, binaryContentType, headers, bytes.NewReader(data[start:end]))
		if err != nil {
			return nil, fmt.Errorf("failed to upload bytes %d-%d: %w", start, end-1, err)
		}
		if len(raw) > 0 {
			var chunkRef models.AttachmentReference
			if json.Unmarshal(raw, &chunkRef) == nil && chunkRef.URL != "" {
				ref = chunkRef
			}
		}
	}
	return &ref, nil
}

func (c *Client) uploadSingle(ctx context.Context, fileName string, data []byte) (*models.AttachmentReference, error) {
	params := url.Values{"fileName": {fileName}}
	var ref models.AttachmentReference
	if err := c.doRequest(ctx, http.MethodPost, c.endpoint(false, "/_apis/wit/attachments", params), binaryContentType, bytes.NewReader(data), &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func contentRange(start, end, total int) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end-1, total)
}
