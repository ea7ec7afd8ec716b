// Package shell renders the upload page. Everything it shows is derived
// from a workflow snapshot and the caller's identity.
package shell

import (
	"embed"
	"html/template"
	"strings"

	"go-bg-remover/internal/auth"
	"go-bg-remover/internal/workflow"
)

// PageTemplate is the template name registered with the router.
const PageTemplate = "index.html.tmpl"

//go:embed templates/*.tmpl
var templateFS embed.FS

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.New("shell").ParseFS(templateFS, "templates/*.tmpl")
}

// Page is the data the page template renders.
type Page struct {
	Title     string
	SignInURL string
	User      *auth.Identity

	State               workflow.State
	HasSource           bool
	SourceURL           template.URL
	SourceName          string
	ProcessedURL        string
	FullscreenSource    bool
	FullscreenProcessed bool
	DropHint            string
	SubmitLabel         string
	SubmitDisabled      bool
	Processing          bool
	Failed              bool
	Filename            string
}

// NewPage projects a snapshot into page data. A nil user renders the
// signed-out page with the Sign In affordance.
func NewPage(user *auth.Identity, snap workflow.Snapshot, signInURL string) Page {
	p := Page{
		Title:          "Image Background Remover",
		SignInURL:      signInURL,
		User:           user,
		State:          snap.State,
		DropHint:       "Click or drag and drop to upload an image",
		SubmitLabel:    "Process Image",
		SubmitDisabled: !snap.CanSubmit || user == nil,
		Processing:     snap.State == workflow.StateProcessing,
		Failed:         snap.State == workflow.StateFailed,
		Filename:       workflow.DownloadFilename,
	}

	if snap.Source != nil {
		p.HasSource = true
		p.SourceURL = imageDataURL(snap.Source.DataURI)
		p.SourceName = snap.Source.Filename
		p.DropHint = "Click or drag to replace"
	}
	if snap.Processed != nil {
		p.ProcessedURL = snap.Processed.URL
	}
	if p.Processing {
		p.SubmitLabel = "Processing..."
	}

	p.FullscreenSource = snap.Fullscreen == workflow.TargetSource && p.SourceURL != ""
	p.FullscreenProcessed = snap.Fullscreen == workflow.TargetProcessed && snap.Processed != nil
	return p
}

// imageDataURL marks uri as trusted only when it is an inline image; anything
// else yields an empty URL and the page shows no preview.
func imageDataURL(uri string) template.URL {
	if len(uri) < len("data:image/") || !strings.EqualFold(uri[:len("data:image/")], "data:image/") {
		return ""
	}
	return template.URL(uri)
}
