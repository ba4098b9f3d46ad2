package finalize

import (
	"errors"
	"strings"

	"github.com/gosimple/slug"

	pkgstrings "canon/pkg/platform/strings"
)

// ErrNoIdentifier is returned for an entity whose name yields no slug.
var ErrNoIdentifier = errors.New("entity has no derivable identifier")

// Slug derives the stable URL-safe identifier of a display name: accents
// folded, one leading article dropped, whitespace collapsed to hyphens.
//
// Example:
//
//	Slug("The  Café Royal")
//	// Returns: "cafe-royal"
func Slug(name string) (string, error) {
	s := strings.ToLower(pkgstrings.StripAccents(strings.Join(strings.Fields(name), " ")))
	s = slug.Make(pkgstrings.StripLeadingArticle(s))
	if s == "" {
		return "", ErrNoIdentifier
	}
	return s, nil
}
