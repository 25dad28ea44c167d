package classifier

import (
	"embed"
	"regexp"
	"strings"

	"github.com/mikey/sortana/internal/core"
)

const (
	systemPrefix = "You are an email-classification assistant.\n" +
		"Read the email below and the classification criterion provided by the user.\n"

	// DefaultSystemPrompt is the user-editable middle section of the system prompt
	DefaultSystemPrompt = "Determine whether the email satisfies the user's criterion."

	systemSuffix = "\nReturn ONLY a JSON object on a single line of the form:\n" +
		"{\"match\": true} - if the email satisfies the criterion\n" +
		"{\"match\": false} - otherwise\n\n" +
		"Do not add any other keys, text, or formatting."

	// DefaultEndpoint is the classification endpoint used when none is configured
	DefaultEndpoint = "http://127.0.0.1:5000/v1/classify"

	// DefaultTemplate names the built-in template used when none or an unknown one is configured
	DefaultTemplate = "openai"

	// CustomTemplate selects the user-supplied template text
	CustomTemplate = "custom"
)

//go:embed templates/*.txt
var templateFS embed.FS

var placeholder = regexp.MustCompile(`{{\s*(\w+)\s*}}`)

// Settings are the user-level classifier settings
type Settings struct {
	Endpoint       string
	TemplateName   string
	CustomTemplate string
	SystemPrompt   string
	Params         core.GenerationParams
}

// DefaultSettings returns the built-in classifier settings
func DefaultSettings() Settings {
	return Settings{
		Endpoint:     DefaultEndpoint,
		TemplateName: DefaultTemplate,
		SystemPrompt: DefaultSystemPrompt,
		Params:       core.DefaultGenerationParams(),
	}
}

// BuiltinTemplate returns the embedded template called name
func BuiltinTemplate(name string) (string, bool) {
	if name == "" || strings.ContainsAny(name, "/\\.") {
		return "", false
	}
	data, err := templateFS.ReadFile("templates/" + name + ".txt")
	if err != nil {
		return "", false
	}
	return string(data), true
}

// TemplateNames lists the embedded template names
func TemplateNames() []string {
	entries, _ := templateFS.ReadDir("templates")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}
	return names
}

// SystemPrompt wraps the user instruction between the fixed prefix and the response-format suffix
func SystemPrompt(instruction string) string {
	if instruction == "" {
		instruction = DefaultSystemPrompt
	}
	return systemPrefix + instruction + systemSuffix
}

// RenderPrompt substitutes {{system}}, {{email}} and {{query}} in template.
// Unknown placeholders render as empty text.
func RenderPrompt(template, instruction, email, criterion string) string {
	data := map[string]string{
		"system": SystemPrompt(instruction),
		"email":  email,
		"query":  criterion,
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		return data[key]
	})
}
