package agent

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/JakeFAU/nmkr-support-router/internal/support"
)

var (
	errNoJSON = errors.New("no json object in reply")
	urlRegexp = regexp.MustCompile(`https?://[^\s"'<>\])},]+`)
)

// classification is the router's reply.
type classification struct {
	Business  bool   `json:"business"`
	Technical bool   `json:"technical"`
	User      bool   `json:"user"`
	Primary   string `json:"primary"`
}

// relevantLinks is the link selector's reply.
type relevantLinks struct {
	Business  []string `json:"business"`
	User      []string `json:"user"`
	Technical []string `json:"technical"`
}

// ordered returns the links with category's list first.
func (r relevantLinks) ordered(category support.Category) []string {
	lists := map[support.Category][]string{
		support.CategoryBusiness:  r.Business,
		support.CategoryTechnical: r.Technical,
		support.CategoryUser:      r.User,
	}
	out := append([]string(nil), lists[category]...)
	for _, c := range support.Categories {
		if c != category {
			out = append(out, lists[c]...)
		}
	}
	return out
}

// extractJSON returns the outermost JSON object in reply, tolerating code
// fences and surrounding prose.
func extractJSON(reply string) (string, error) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start == -1 || end <= start {
		return "", errNoJSON
	}
	return reply[start : end+1], nil
}

// parseCategory reads the router reply. Unparseable replies fall back to
// keyword matching, and to CategoryUser when nothing matches.
func parseCategory(reply string) support.Category {
	if raw, err := extractJSON(reply); err == nil {
		var c classification
		if json.Unmarshal([]byte(raw), &c) == nil {
			if cat, ok := support.ParseCategory(c.Primary); ok {
				return cat
			}
			flags := map[support.Category]bool{
				support.CategoryBusiness:  c.Business,
				support.CategoryTechnical: c.Technical,
				support.CategoryUser:      c.User,
			}
			for _, cat := range support.Categories {
				if flags[cat] {
					return cat
				}
			}
		}
	}
	lower := strings.ToLower(reply)
	for _, cat := range support.Categories {
		if strings.Contains(lower, string(cat)) {
			return cat
		}
	}
	return support.CategoryUser
}

// parseLinks reads a link selector reply. When the reply is not the expected
// JSON every URL found in the text is returned instead.
func parseLinks(reply string, category support.Category) []string {
	if raw, err := extractJSON(reply); err == nil {
		var links relevantLinks
		if json.Unmarshal([]byte(raw), &links) == nil {
			return links.ordered(category)
		}
	}
	return urlRegexp.FindAllString(reply, -1)
}
