// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mx

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gabriel-vasile/mimetype"

	"github.com/bureau-foundation/mx/transport"
)

// UploadOptions tunes a media upload. The zero value sniffs the
// content type from the data.
type UploadOptions struct {
	// ContentType is sent as-is when non-empty; otherwise the type
	// is detected from the data's magic bytes.
	ContentType string
	// Filename is recorded in the media metadata. Optional.
	Filename string
}

// UploadMedia uploads a blob to the media repository and returns its
// mxc:// content URI. The executor does not auto-retry raw-body
// requests (the reader is consumed by the first attempt), so a
// rate-limited upload surfaces *transport.TooManyRequestsError to the
// caller.
func (c *Client) UploadMedia(ctx context.Context, data []byte, options UploadOptions) (string, error) {
	contentType := options.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	var query url.Values
	if options.Filename != "" {
		query = url.Values{"filename": []string{options.Filename}}
	}

	var response UploadResponse
	err := c.requestJSON(ctx, &transport.Request{
		Method:      http.MethodPost,
		Path:        "/_matrix/media/v3/upload",
		Query:       query,
		RawBody:     bytes.NewReader(data),
		ContentType: contentType,
	}, &response)
	if err != nil {
		return "", fmt.Errorf("mx: uploading media: %w", err)
	}
	if response.ContentURI == "" {
		return "", fmt.Errorf("mx: upload response carried no content URI")
	}
	return response.ContentURI, nil
}
