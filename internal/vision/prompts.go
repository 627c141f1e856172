package vision

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

//go:embed defaults/*
var defaultFS embed.FS

const (
	ocrPromptFile  = "ocr.md"
	userPromptFile = "user.tmpl"
)

// PromptManager assembles prompts from a directory of markdown files,
// falling back to the embedded defaults for anything missing.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

var systemOrder = map[string]int{
	"identity.md": 1,
	"analysis.md": 2,
	"format.md":   3,
}

// GetSystemPrompt joins every system markdown file in a deterministic order.
func (pm *PromptManager) GetSystemPrompt() (string, error) {
	var contents []string
	var err error
	if pm.Directory != "" {
		contents, err = readSystemFiles(os.DirFS(pm.Directory), ".")
	}
	if err != nil || len(contents) == 0 {
		contents, err = readSystemFiles(defaultFS, "defaults")
		if err != nil {
			return "", err
		}
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

func readSystemFiles(fsys fs.FS, dir string) ([]string, error) {
	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts directory: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := systemOrder[files[i].Name()]
		oj, okJ := systemOrder[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".md") || name == ocrPromptFile {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			continue
		}
		contents = append(contents, strings.TrimSpace(string(data)))
	}
	return contents, nil
}

func (pm *PromptManager) readOne(name string) (string, error) {
	if pm.Directory != "" {
		if data, err := os.ReadFile(filepath.Join(pm.Directory, name)); err == nil {
			return string(data), nil
		}
	}
	data, err := defaultFS.ReadFile("defaults/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt %s: %w", name, err)
	}
	return string(data), nil
}

// GetOCRPrompt returns the text-extraction prompt.
func (pm *PromptManager) GetOCRPrompt() (string, error) {
	s, err := pm.readOne(ocrPromptFile)
	return strings.TrimSpace(s), err
}

// RenderUserPrompt fills the user template for req.
func (pm *PromptManager) RenderUserPrompt(req Request) (string, error) {
	raw, err := pm.readOne(userPromptFile)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New("user").Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse user prompt: %w", err)
	}

	var remaining []string
	if req.CurrentStep+1 < len(req.Instructions) {
		remaining = req.Instructions[req.CurrentStep+1:]
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]any{
		"StepNumber":  req.CurrentStep + 1,
		"TotalSteps":  len(req.Instructions),
		"Instruction": req.CurrentInstruction(),
		"Remaining":   remaining,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render user prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
