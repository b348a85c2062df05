package classifier

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

// DefaultProviderPatterns match the canonical, short, shorts and music link
// shapes of the supported provider.
var DefaultProviderPatterns = []string{
	`^https?://(www\.|m\.)?youtube\.com/watch\?.*v=[\w-]{6,}`,
	`^https?://(www\.)?youtube\.com/shorts/[\w-]{6,}`,
	`^https?://music\.youtube\.com/watch\?.*v=[\w-]{6,}`,
	`^https?://youtu\.be/[\w-]{6,}`,
}

// URLChecker validates remote URLs before they are accepted as sources.
type URLChecker interface {
	ValidateURL(raw string) error
}

// Classifier decides how a raw input must be resolved. It performs no
// network I/O; the only side channel is a filesystem existence check.
type Classifier struct {
	patterns []*regexp.Regexp
	urls     URLChecker
}

// New compiles the default provider patterns plus extra. A nil checker
// accepts every http(s) URL with a host.
func New(extra []string, urls URLChecker) (*Classifier, error) {
	all := append(append([]string{}, DefaultProviderPatterns...), extra...)
	patterns := make([]*regexp.Regexp, 0, len(all))
	for _, p := range all {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile provider pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &Classifier{patterns: patterns, urls: urls}, nil
}

// Classify inspects raw and returns either a ready source or a provider
// link tagged for resolution.
func (c *Classifier) Classify(raw string) (domain.Classification, error) {
	const op = "classifier.Classify"

	input := strings.TrimSpace(raw)
	if input == "" {
		return domain.Classification{}, errpkg.Ef(errpkg.KindInvalidInput, op, "empty input")
	}

	if path, ok := localPath(input); ok {
		return domain.Classification{Source: domain.LocalFile(path)}, nil
	}

	if c.isProviderLink(input) {
		return domain.Classification{ProviderLink: input}, nil
	}

	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" {
		return domain.Classification{}, errpkg.Ef(errpkg.KindInvalidInput, op, "unrecognised input %q", input)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return domain.Classification{}, errpkg.Ef(errpkg.KindInvalidInput, op, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return domain.Classification{}, errpkg.Ef(errpkg.KindInvalidInput, op, "missing host in %q", input)
	}

	if c.urls != nil {
		if err := c.urls.ValidateURL(input); err != nil {
			return domain.Classification{}, errpkg.E(errpkg.KindInvalidInput, op, err)
		}
	}

	return domain.Classification{Source: domain.RemoteDirect(input)}, nil
}

func (c *Classifier) isProviderLink(input string) bool {
	for _, re := range c.patterns {
		if re.MatchString(input) {
			return true
		}
	}
	return false
}

// localPath accepts plain paths and file:// URLs naming an existing
// regular file.
func localPath(input string) (string, bool) {
	path := input
	if strings.HasPrefix(strings.ToLower(input), "file://") {
		u, err := url.Parse(input)
		if err != nil || u.Path == "" {
			return "", false
		}
		path = u.Path
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}
