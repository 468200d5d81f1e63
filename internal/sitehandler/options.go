package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

type Options struct {
	Logger log.Logger
	// Templates holds layout.html, pages/*.html and error/*.html
	Templates fs.FS
	// Static is served under /static/
	Static fs.FS
	// TurnstileSiteKey renders the challenge widget on the contact form when set
	TurnstileSiteKey string

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=86400"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	// assets are not content-hashed, so no immutable
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=86400"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.Templates == nil {
		return fmt.Errorf("%w: Templates is nil", ErrInvalidOptions)
	}
	if o.Static == nil {
		return fmt.Errorf("%w: Static is nil", ErrInvalidOptions)
	}
	return nil
}
