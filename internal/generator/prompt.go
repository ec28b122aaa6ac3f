package generator

import (
	"strings"
	"text/template"
)

const defaultLanguage = "English"

// PromptData parameterises the fixed prompt template.
type PromptData struct {
	TargetURL string
	Notes     string
	Language  string
}

var promptTmpl = template.Must(template.New("prompt").Parse(`You are an expert web automation engineer.

The user is not a programmer and wants to turn a documentation website into a single PDF.
The user cannot install Python locally: the script must run in Google Colab.

Earlier scripts produced PDFs where sticky headers and banners covered the text.
The script you write must remove every sticky header, floating footer and cookie banner before printing each page.

Target URL: {{.TargetURL}}
User notes: {{if .Notes}}{{.Notes}}{{else}}(none){{end}}

A screenshot of the website layout is attached.

Tasks:
1. Use the screenshot to identify the sidebar or navigation structure that lists every documentation page.
2. Write a Python script for a Jupyter / Google Colab notebook.
   - Start with a setup cell that installs dependencies:
     !pip install playwright pypdf nest_asyncio
     !playwright install chromium
     !playwright install-deps
     then imports nest_asyncio and calls nest_asyncio.apply().
   - Main cell:
     - Use async playwright with a headless chromium browser.
     - Collect every documentation link from the sidebar of the target URL.
     - For each link, open the page and inject JavaScript that hides the sidebar, header and footer,
       and sets display:none on every element whose computed position is fixed or sticky.
       Also hide common nuisance selectors such as nav, header, footer, .cookie-banner, #sidebar and .ads.
     - Print each page to PDF, merge the PDFs in order with pypdf,
       and download the result with google.colab.files.download('documentation.pdf').
3. Write short step-by-step instructions in {{.Language}} for running the script:
   open Google Colab, create a new notebook, paste the code into a cell, run it.

Return a single JSON object and nothing else:
{
  "script": "the complete python code",
  "instructions": "the step-by-step guide for Google Colab",
  "explanation": "a brief explanation of how the script removes fixed and sticky elements that block content"
}
`))

// BuildPrompt renders the prompt for one submission.
func BuildPrompt(data PromptData) (string, error) {
	if data.Language == "" {
		data.Language = defaultLanguage
	}
	var sb strings.Builder
	if err := promptTmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
