package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/raphaelgruber/agentd/internal/blob"
	"github.com/raphaelgruber/agentd/internal/models"
	"github.com/raphaelgruber/agentd/internal/stage"
)

// PublishFile stores a document the agent wrote and announces it as a
// produced file.
type PublishFile struct {
	store blob.Store
}

// NewPublishFile creates the publish_file tool writing into store.
func NewPublishFile(store blob.Store) *PublishFile {
	return &PublishFile{store: store}
}

func (p *PublishFile) Name() string { return "publish_file" }

func (p *PublishFile) Description() string {
	return "Publish a finished document (report, notes, data) so the user can download it."
}

func (p *PublishFile) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":        map[string]any{"type": "string", "description": "File name, e.g. report.md"},
			"filetype":    map[string]any{"type": "string", "description": "File type, e.g. md, csv, txt"},
			"description": map[string]any{"type": "string", "description": "One sentence describing the file"},
			"content":     map[string]any{"type": "string", "description": "Full file content"},
		},
		"required": []string{"name", "content"},
	}
}

func (p *PublishFile) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Name        string `json:"name"`
		Filetype    string `json:"filetype"`
		Description string `json:"description"`
		Content     string `json:"content"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}

	name := path.Base(strings.TrimSpace(args.Name))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("name is required")
	}
	filetype := strings.TrimPrefix(args.Filetype, ".")
	if filetype == "" {
		filetype = strings.TrimPrefix(path.Ext(name), ".")
	}

	key := path.Join("artifacts", uuid.NewString(), name)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	u, err := p.store.Put(ctx, key, strings.NewReader(args.Content), contentType)
	if err != nil {
		return "", fmt.Errorf("store file: %w", err)
	}

	file := models.AgentFile{URL: u, Name: name, Filetype: filetype, Description: args.Description}
	if err := emit(ctx, stage.FileProduced{File: file}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Published %s at %s", name, u), nil
}
