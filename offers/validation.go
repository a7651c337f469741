package offers

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	auth "github.com/goliatone/go-auth-session"
)

// Input is the editable part of an offer.
type Input struct {
	Title        string   `form:"title" json:"title"`
	SiteName     string   `form:"siteName" json:"siteName"`
	Instructions string   `form:"instructions" json:"instructions"`
	Warnings     []string `form:"warnings" json:"warnings"`
	Link         string   `form:"link" json:"link"`
}

func (in Input) normalized() Input {
	out := Input{
		Title:        strings.TrimSpace(in.Title),
		SiteName:     strings.TrimSpace(in.SiteName),
		Instructions: strings.TrimSpace(in.Instructions),
		Link:         strings.TrimSpace(in.Link),
		Warnings:     make([]string, len(in.Warnings)),
	}
	for i, w := range in.Warnings {
		out.Warnings[i] = strings.TrimSpace(w)
	}
	return out
}

func noBlankWarning(value interface{}) error {
	warnings, _ := value.([]string)
	for _, w := range warnings {
		if w == "" {
			return errors.New("warnings cannot be blank")
		}
	}
	return nil
}

// Validate requires a title, instructions and exactly three non blank
// warnings. Site name and link are optional; a link must be a URL.
func (in Input) Validate() error {
	in = in.normalized()
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required),
		validation.Field(&in.Instructions, validation.Required),
		validation.Field(&in.Warnings,
			validation.Required,
			validation.Length(WarningCount, WarningCount),
			validation.By(noBlankWarning),
		),
		validation.Field(&in.Link, is.URL),
	)
	if err == nil {
		return nil
	}

	verr := auth.NewValidationError(TextCodeInvalidOffer, MsgInvalidOffer)
	if fields, ok := err.(validation.Errors); ok {
		meta := make(map[string]any, len(fields))
		for name, ferr := range fields {
			meta[name] = ferr.Error()
		}
		verr.WithMetadata(map[string]any{"fields": meta})
	}
	return verr
}
