package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
)

var forbiddenHosts = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"0.0.0.0",
	"169.254.169.254",
}

// Validator wraps go-playground/validator with the URL rules used for
// media and update sources.
type Validator struct {
	validate     *validator.Validate
	allowPrivate bool
}

// New returns a Validator. When allowPrivate is false, URLs pointing at
// loopback, private or metadata hosts are rejected.
func New(allowPrivate bool) *Validator {
	v := validator.New()
	_ = v.RegisterValidation("fetch_url", validateFetchURL)
	_ = v.RegisterValidation("safe_url", validateSafeURL)
	return &Validator{validate: v, allowPrivate: allowPrivate}
}

// Struct validates a struct using its `validate` tags.
func (v *Validator) Struct(s any) error {
	return v.validate.Struct(s)
}

// ValidateURL checks that raw is an http(s) URL this process may fetch.
func (v *Validator) ValidateURL(raw string) error {
	tag := "required,safe_url"
	if v.allowPrivate {
		tag = "required,fetch_url"
	}
	if err := v.validate.Var(raw, tag); err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	return nil
}

func parseFetchURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}

	if u.Host == "" {
		return nil, false
	}

	return u, true
}

func validateFetchURL(fl validator.FieldLevel) bool {
	_, ok := parseFetchURL(fl.Field().String())
	return ok
}

func validateSafeURL(fl validator.FieldLevel) bool {
	u, ok := parseFetchURL(fl.Field().String())
	if !ok {
		return false
	}

	host := u.Hostname()

	for _, forbidden := range forbiddenHosts {
		if strings.EqualFold(host, forbidden) {
			return false
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return false
		}
	}

	return true
}
