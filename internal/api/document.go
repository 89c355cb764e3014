package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Document processing status as reported by the backend.
const (
	DocumentProcessing = "PROCESSING"
	DocumentCompleted  = "COMPLETED"
	DocumentError      = "ERROR"
)

// Document is a source document attached to a workspace.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// UploadDocument uploads one local file into a workspace and returns the
// backend-assigned document id. The id is the correlation key for
// processing-status notifications; the upload acknowledgement says nothing
// about processing, which continues in the background.
func (c *Client) UploadDocument(ctx context.Context, workspaceID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	// Stream the multipart body instead of buffering the whole file.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	endpoint := "/workspaces/" + url.PathEscape(workspaceID) + "/documents"
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	// Uploads go through the stream client: a fixed client timeout would be
	// wrong for large files, the caller's context bounds the call instead.
	resp, err := c.streamc.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("uploading %s: %w", path, c.decodeError(resp))
	}

	var out struct {
		DocumentID string `json:"document_id"`
	}
	if err := decodeJSON(resp.Body, &out); err != nil {
		return "", fmt.Errorf("decoding upload response for %s: %w", path, err)
	}
	if out.DocumentID == "" {
		return "", fmt.Errorf("upload of %s acknowledged without a document id", path)
	}

	c.logger.Debug("document uploaded",
		"workspace_id", workspaceID,
		"document_id", out.DocumentID,
		"file", filepath.Base(path),
	)
	return out.DocumentID, nil
}

// ListDocuments returns the documents attached to a workspace.
func (c *Client) ListDocuments(ctx context.Context, workspaceID string) ([]Document, error) {
	var out struct {
		Documents []Document `json:"documents"`
	}
	endpoint := "/workspaces/" + url.PathEscape(workspaceID) + "/documents"
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return out.Documents, nil
}

// DeleteDocument removes a document from a workspace.
func (c *Client) DeleteDocument(ctx context.Context, workspaceID, documentID string) error {
	endpoint := "/workspaces/" + url.PathEscape(workspaceID) + "/documents/" + url.PathEscape(documentID)
	if err := c.do(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return nil
}
