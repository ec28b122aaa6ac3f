package web

import "github.com/vbonduro/docustitch/internal/domain"

const colabNewNotebookURL = "https://colab.research.google.com/#create=true"

// pageView is the data every page and partial template receives.
type pageView struct {
	Session  *domain.Session
	ColabURL string
	// OOB marks a partial rendered as an htmx out-of-band swap.
	OOB bool
	// UploadError is shown under the file picker after a rejected upload.
	UploadError string
}

func newPageView(sess *domain.Session) pageView {
	return pageView{Session: sess, ColabURL: colabNewNotebookURL}
}

// AsOOB returns a copy of v for rendering as an out-of-band swap.
func (v pageView) AsOOB() pageView {
	v.OOB = true
	return v
}
