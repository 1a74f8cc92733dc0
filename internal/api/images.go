package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"

	"github.com/petsphoto/pawgen/pkg/models"
)

// UploadImage validates a source photo locally and posts it as
// multipart form data. Rejected files never touch the network.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte) (*models.UploadedImage, error) {
	mimeType := detectMime(data)
	if err := models.ValidateUpload(mimeType, int64(len(data))); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", mimeType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to create form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/images/upload"), &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := c.authorize(ctx, req, ""); err != nil {
		return nil, err
	}

	var img models.UploadedImage
	if err := c.send(req, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// GetImage fetches the server's record of an uploaded photo.
func (c *Client) GetImage(ctx context.Context, imageID string) (*models.UploadedImage, error) {
	var img models.UploadedImage
	if err := c.doJSON(ctx, http.MethodGet, "/images/"+imageID, nil, &img, true, ""); err != nil {
		return nil, err
	}
	return &img, nil
}

// detectMime sniffs the content type from the file's leading bytes. The
// filename extension is deliberately ignored; only the content counts.
func detectMime(data []byte) string {
	limit := len(data)
	if limit > 512 {
		limit = 512
	}
	return http.DetectContentType(data[:limit])
}
