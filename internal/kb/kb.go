// Package kb manages the reference-material knowledge base backing the
// tutoring prompts: local documents are uploaded to an OpenAI-compatible
// file store and attached to a vector store for retrieval.
package kb

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Handle identifies an assembled knowledge base.
type Handle struct {
	VectorStoreID string   `json:"vector_store_id"`
	FileIDs       []string `json:"file_ids"`
}

// Client uploads documents and manages vector stores.
type Client struct {
	api *openai.Client
}

// New creates a knowledge-base client.
func New(baseURL, apiKey string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(config)}
}

// supported lists the document extensions worth indexing.
var supported = map[string]bool{
	".txt": true,
	".md":  true,
	".pdf": true,
}

// Setup uploads every supported document under dir and attaches them
// to a fresh vector store named name. Unsupported files are skipped
// with a log line, not an error.
func (c *Client) Setup(ctx context.Context, name, dir string) (*Handle, error) {
	store, err := c.api.CreateVectorStore(ctx, openai.VectorStoreRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	handle := &Handle{VectorStoreID: store.ID}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !supported[strings.ToLower(filepath.Ext(path))] {
			slog.Debug("skipping unsupported document", "path", path)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read document %s: %w", path, err)
		}
		file, err := c.api.CreateFileBytes(ctx, openai.FileBytesRequest{
			Name:    filepath.Base(path),
			Bytes:   data,
			Purpose: openai.PurposeAssistants,
		})
		if err != nil {
			return fmt.Errorf("upload document %s: %w", path, err)
		}
		if _, err := c.api.CreateVectorStoreFile(ctx, store.ID, openai.VectorStoreFileRequest{FileID: file.ID}); err != nil {
			return fmt.Errorf("attach document %s: %w", path, err)
		}

		handle.FileIDs = append(handle.FileIDs, file.ID)
		slog.Info("indexed document", "path", path, "file_id", file.ID)
		return nil
	})
	if err != nil {
		return handle, err
	}
	if len(handle.FileIDs) == 0 {
		return handle, fmt.Errorf("no supported documents under %s", dir)
	}
	return handle, nil
}

// Teardown deletes the vector store and every uploaded file.
func (c *Client) Teardown(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}
	if handle.VectorStoreID != "" {
		if _, err := c.api.DeleteVectorStore(ctx, handle.VectorStoreID); err != nil {
			return fmt.Errorf("delete vector store: %w", err)
		}
	}
	for _, id := range handle.FileIDs {
		if err := c.api.DeleteFile(ctx, id); err != nil {
			return fmt.Errorf("delete file %s: %w", id, err)
		}
	}
	return nil
}
