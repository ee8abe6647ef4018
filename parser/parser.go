package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kennygrant/sanitize"

	"github.com/aluiziolira/go-freebook/models"
)

// LoginForm is the login form as found on the page.
type LoginForm struct {
	Action string
	Fields map[string]string
}

// MissingElementError reports an expected element that is absent from a page.
type MissingElementError struct {
	What     string
	Selector string
}

func (e *MissingElementError) Error() string {
	return fmt.Sprintf("%s not found (selector %q)", e.What, e.Selector)
}

var digitsPattern = regexp.MustCompile(`\d+`)

// ExtractLoginForm collects the action and every named input of the login form.
func ExtractLoginForm(doc *goquery.Selection, formSelector string) (*LoginForm, error) {
	form := doc.Find(formSelector).First()
	if form.Length() == 0 {
		return nil, &MissingElementError{What: "login form", Selector: formSelector}
	}

	fields := make(map[string]string)
	form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		typ := strings.ToLower(input.AttrOr("type", "text"))
		if (typ == "checkbox" || typ == "radio") && !input.Is("[checked]") {
			return
		}
		fields[name] = input.AttrOr("value", "")
	})

	return &LoginForm{
		Action: strings.TrimSpace(form.AttrOr("action", "")),
		Fields: fields,
	}, nil
}

// ExtractLoginError returns the login error message shown on the page, if any.
func ExtractLoginError(doc *goquery.Selection, selector string) string {
	return NormalizeTitle(doc.Find(selector).First().Text())
}

// ExtractOffer reads the claim link and title of the day's offer.
// The returned ClaimURL is the raw href; callers resolve it against the page.
func ExtractOffer(doc *goquery.Selection, claimSelector, titleSelector string) (*models.Offer, error) {
	link := doc.Find(claimSelector).First()
	if link.Length() == 0 {
		return nil, &MissingElementError{What: "claim link", Selector: claimSelector}
	}
	href := strings.TrimSpace(link.AttrOr("href", ""))
	if href == "" {
		return nil, &MissingElementError{What: "claim link href", Selector: claimSelector}
	}

	titleSel := doc.Find(titleSelector).First()
	if titleSel.Length() == 0 {
		return nil, &MissingElementError{What: "offer title", Selector: titleSelector}
	}
	title := NormalizeTitle(titleSel.Text())
	if title == "" {
		return nil, &MissingElementError{What: "offer title text", Selector: titleSelector}
	}

	id, err := BookIDFromClaimURL(href)
	if err != nil {
		return nil, err
	}

	return &models.Offer{ID: id, Title: title, ClaimURL: href}, nil
}

// BookIDFromClaimURL returns the first numeric path segment of a claim link,
// e.g. "/freelearning-claim/12345/21478" yields "12345".
func BookIDFromClaimURL(href string) (string, error) {
	path := href
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	for _, segment := range strings.Split(path, "/") {
		if segment != "" && digitsPattern.FindString(segment) == segment {
			return segment, nil
		}
	}
	return "", fmt.Errorf("no numeric book id in claim link %q", href)
}

// DownloadPath fills the {id} and {format} placeholders of template.
func DownloadPath(template, id, format string) string {
	return strings.NewReplacer("{id}", id, "{format}", format).Replace(template)
}

// BookFileName derives a safe "<title>_<id>.<format>" file name.
func BookFileName(title, id, format string) string {
	base := strings.Trim(sanitize.BaseName(NormalizeTitle(title)), "-")
	if base == "" {
		base = "ebook"
	}
	name := base
	if id != "" {
		name += "_" + sanitize.BaseName(id)
	}
	if format != "" {
		name += "." + NormalizeFormat(format)
	}
	return name
}

// NormalizeTitle collapses whitespace in scraped text.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// NormalizeFormat lowercases a format and strips any leading dot.
func NormalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

// ValidateOffer ensures the scraper captured the required fields.
func ValidateOffer(o *models.Offer) error {
	if o == nil {
		return fmt.Errorf("offer is nil")
	}
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("offer missing id")
	}
	if strings.TrimSpace(o.Title) == "" {
		return fmt.Errorf("offer %s missing title", o.ID)
	}
	if strings.TrimSpace(o.ClaimURL) == "" {
		return fmt.Errorf("offer %s missing claim url", o.ID)
	}
	return nil
}

// ValidateRecord ensures a history record is complete enough to store.
func ValidateRecord(r *models.ClaimRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.BookID) == "" {
		return fmt.Errorf("record missing book id")
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("record %s missing title", r.BookID)
	}
	if r.ClaimedAt.IsZero() {
		return fmt.Errorf("record %s missing claim time", r.BookID)
	}
	if r.FilePath != "" && r.Format == "" {
		return fmt.Errorf("record %s has a file but no format", r.BookID)
	}
	return nil
}
