// Package script decides whether a file is something the tsx runner can
// execute: plain JavaScript, TypeScript, or TypeScript with JSX markup.
package script

import (
	"errors"
	"path/filepath"
	"strings"
)

// Kind identifies the flavour of script file.
type Kind string

const (
	KindUnknown         Kind = ""
	KindJavaScript      Kind = "javascript"
	KindTypeScript      Kind = "typescript"
	KindTypeScriptReact Kind = "typescriptreact"
)

// Language IDs as reported by the editor for each kind.
var languageIDs = map[string]Kind{
	"javascript":      KindJavaScript,
	"typescript":      KindTypeScript,
	"typescriptreact": KindTypeScriptReact,
}

// Extensions lists the file extensions of every runnable kind.
var Extensions = []string{".ts", ".tsx", ".js"}

var (
	ErrNoEditor    = errors.New("no active editor")
	ErrNoFile      = errors.New("no file selected")
	ErrUnsupported = errors.New("unsupported file kind")
	ErrUntitled    = errors.New("document is not saved")
)

// ValidationError carries the message shown to the user alongside the
// underlying sentinel.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

// Document is the editor's view of a file: where it lives, what the editor
// thinks it contains, and whether it has ever been saved.
type Document struct {
	Path       string
	LanguageID string
	Untitled   bool
}

// KindOf classifies path by its extension.
func KindOf(path string) Kind {
	switch filepath.Ext(path) {
	case ".js":
		return KindJavaScript
	case ".ts":
		return KindTypeScript
	case ".tsx":
		return KindTypeScriptReact
	}
	return KindUnknown
}

// LanguageIDFor returns the language ID an editor would assign to path, or
// "plaintext" when the extension is not a script.
func LanguageIDFor(path string) string {
	if k := KindOf(path); k != KindUnknown {
		return string(k)
	}
	return "plaintext"
}

// NewDocument builds a Document for a file on disk. A document is untitled
// when it carries the editor's "untitled:" scheme.
func NewDocument(path string) *Document {
	untitled := strings.HasPrefix(path, "untitled:")
	return &Document{
		Path:       strings.TrimPrefix(path, "untitled:"),
		LanguageID: LanguageIDFor(path),
		Untitled:   untitled,
	}
}

// ValidateDocument checks the focused document. Both the language ID and the
// extension must identify a runnable script, and the document must be saved.
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return &ValidationError{Message: "No active editor found", Err: ErrNoEditor}
	}

	byExt := KindOf(doc.Path)
	byLang := languageIDs[doc.LanguageID]
	ok := byExt != KindUnknown && byLang != KindUnknown
	// .ts and .tsx are both accepted for either TypeScript language ID.
	if ok && byExt == KindJavaScript {
		ok = byLang == KindJavaScript
	} else if ok {
		ok = byLang != KindJavaScript
	}
	if !ok {
		return &ValidationError{
			Message: "Active file is not a JavaScript, TypeScript, or TSX file",
			Err:     ErrUnsupported,
		}
	}

	if doc.Untitled {
		return &ValidationError{Message: "Please save the file first", Err: ErrUntitled}
	}
	return nil
}

// ValidatePath checks an explicitly selected file, e.g. from a file browser.
func ValidatePath(path string) error {
	if path == "" {
		return &ValidationError{Message: "No file selected", Err: ErrNoFile}
	}
	if KindOf(path) == KindUnknown {
		return &ValidationError{
			Message: "Selected file is not a JavaScript, TypeScript, or TSX file",
			Err:     ErrUnsupported,
		}
	}
	return nil
}
