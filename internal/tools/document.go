package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	documentToolName        = "save_document"
	defaultDocumentFilename = "output.md"
)

type documentArgs struct {
	Content  string `json:"content" jsonschema:"required,description=Text to write"`
	Filename string `json:"filename,omitempty" jsonschema:"description=File name relative to the documents directory (default output.md)"`
}

// DocumentTool writes text files under a fixed documents directory.
type DocumentTool struct {
	dir string
}

// NewDocumentTool constructs the document writer rooted at dir.
func NewDocumentTool(dir string) *DocumentTool {
	return &DocumentTool{dir: dir}
}

func (*DocumentTool) Name() string { return documentToolName }

func (*DocumentTool) Description() string {
	return "将内容写入文档文件，默认文件名为 output.md。"
}

func (*DocumentTool) Schema() json.RawMessage { return schemaOf(documentArgs{}) }

func (t *DocumentTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filename := args["filename"]
	if filename == "" {
		filename = defaultDocumentFilename
	}

	root, err := resolveRoot(t.dir)
	if err != nil {
		return "", err
	}
	path, err := resolveUnder(root, filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir parent for %s: %w", filename, err)
	}

	content := args["content"]
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return fmt.Sprintf("成功将内容保存到 %s（%d 字节）", path, len(content)), nil
}
