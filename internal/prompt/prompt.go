package prompt

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

const (
	SchemaPlaceholder   = "{schema}"
	QuestionPlaceholder = "{question}"
)

//go:embed default_template.txt
var defaultTemplateText string

// Template is an instruction text with the {schema} and {question} insertion
// points. "{{" and "}}" stand for literal braces.
type Template struct {
	text    string
	source  string
	version string
}

type TemplateError struct {
	Source string
	Reason string
	Err    error
}

func (e *TemplateError) Error() string {
	msg := "invalid prompt template"
	if e.Source != "" {
		msg += " " + e.Source
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TemplateError) Unwrap() error { return e.Err }

func New(source, text string) (Template, error) {
	masked := strings.NewReplacer("{{", "", "}}", "", SchemaPlaceholder, "\x00s", QuestionPlaceholder, "\x00q").Replace(text)
	var missing []string
	if !strings.Contains(masked, "\x00s") {
		missing = append(missing, SchemaPlaceholder)
	}
	if !strings.Contains(masked, "\x00q") {
		missing = append(missing, QuestionPlaceholder)
	}
	if len(missing) > 0 {
		return Template{}, &TemplateError{Source: source, Reason: "missing placeholder " + strings.Join(missing, ", ")}
	}

	sum := sha256.Sum256([]byte(text))
	return Template{
		text:    text,
		source:  source,
		version: hex.EncodeToString(sum[:])[:12],
	}, nil
}

func Default() Template {
	tmpl, err := New("embedded:default_template.txt", defaultTemplateText)
	if err != nil {
		panic(err)
	}
	return tmpl
}

func Load(source string, r io.Reader) (Template, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Template{}, &TemplateError{Source: source, Reason: "unreadable", Err: err}
	}
	return New(source, string(data))
}

func LoadFile(path string) (Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return Template{}, &TemplateError{Source: path, Reason: "unreadable", Err: err}
	}
	defer func() { _ = f.Close() }()
	return Load(path, f)
}

func (t Template) Text() string    { return t.text }
func (t Template) Source() string  { return t.source }
func (t Template) Version() string { return t.version }

func (t Template) valid() bool { return t.version != "" }

// Compose substitutes schemaText and question into tmpl in one pass. The
// inserted values are copied verbatim and never scanned for placeholders.
func Compose(tmpl Template, schemaText, question string) (string, error) {
	if !tmpl.valid() {
		return "", &TemplateError{Source: tmpl.source, Reason: "template not loaded"}
	}
	replacer := strings.NewReplacer(
		"{{", "{",
		"}}", "}",
		SchemaPlaceholder, schemaText,
		QuestionPlaceholder, question,
	)
	return replacer.Replace(tmpl.text), nil
}
