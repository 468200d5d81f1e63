package contact

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

const (
	maxNameRunes    = 100
	maxEmailBytes   = 254
	maxMessageRunes = 5000

	// form field the turnstile widget posts
	turnstileField = "cf-turnstile-response"
)

var errUnsupportedMedia = errors.New("unsupported media type")

// Submission is a parsed contact form
type Submission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

// parseSubmission reads a urlencoded or JSON body. The caller has already capped the body size.
func parseSubmission(r *http.Request) (Submission, error) {
	ct := r.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil && ct != "" {
		return Submission{}, errUnsupportedMedia
	}

	var s Submission
	switch mt {
	case "application/json":
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&s); err != nil {
			return Submission{}, xerrors.Wrap(err, "decode json submission")
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return Submission{}, xerrors.New("trailing data after json submission")
		}
	case "application/x-www-form-urlencoded", "":
		if err := r.ParseForm(); err != nil {
			return Submission{}, xerrors.Wrap(err, "parse form submission")
		}
		s = Submission{
			Name:    r.PostForm.Get("name"),
			Email:   r.PostForm.Get("email"),
			Message: r.PostForm.Get("message"),
			Token:   r.PostForm.Get(turnstileField),
		}
	default:
		return Submission{}, errUnsupportedMedia
	}

	s.Name = strings.TrimSpace(s.Name)
	s.Email = strings.TrimSpace(s.Email)
	s.Message = strings.TrimSpace(strings.ReplaceAll(s.Message, "\r\n", "\n"))
	return s, nil
}

// validate returns the names of the invalid fields, empty when s is acceptable
func (s Submission) validate() []string {
	var bad []string

	if n := utf8.RuneCountInString(s.Name); n == 0 || n > maxNameRunes ||
		!utf8.ValidString(s.Name) || strings.ContainsAny(s.Name, "\r\n") {
		bad = append(bad, "name")
	}
	if !validEmail(s.Email) {
		bad = append(bad, "email")
	}
	if n := utf8.RuneCountInString(s.Message); n == 0 || n > maxMessageRunes || !utf8.ValidString(s.Message) {
		bad = append(bad, "message")
	}
	return bad
}

// validEmail accepts a bare addr-spec only, no display name
func validEmail(e string) bool {
	if e == "" || len(e) > maxEmailBytes || strings.ContainsAny(e, "\r\n") {
		return false
	}
	a, err := mail.ParseAddress(e)
	if err != nil {
		return false
	}
	return a.Address == e && a.Name == ""
}
