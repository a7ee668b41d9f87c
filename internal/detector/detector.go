// Package detector finds contact information in free text so that messages
// trying to take a negotiation off-platform can be held for review.
package detector

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Category names the kind of contact information a match represents
type Category string

const (
	CategoryEmail        Category = "email"
	CategoryURL          Category = "url"
	CategoryPhone        Category = "phone"
	CategorySocialHandle Category = "social_handle"
	CategoryOffPlatform  Category = "off_platform"
)

// priority orders categories for overlap resolution; lower wins
var priority = map[Category]int{
	CategoryEmail:        0,
	CategoryURL:          1,
	CategoryPhone:        2,
	CategorySocialHandle: 3,
	CategoryOffPlatform:  4,
}

// Match is one detected span. Start and End are byte offsets into the input.
type Match struct {
	Category Category `json:"category"`
	Value    string   `json:"value"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// Result is the verdict for one text. Flagged is true iff Matches is non-empty.
type Result struct {
	Flagged bool    `json:"flagged"`
	Matches []Match `json:"matches"`
}

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}`)

	obfuscatedEmailPattern = regexp.MustCompile(
		`(?i)[a-z0-9._%+\-]+\s*(?:@|\[\s*at\s*\]|\(\s*at\s*\)|\{\s*at\s*\}|\s+at\s+)\s*` +
			`[a-z0-9\-]+(?:\s*(?:\[\s*dot\s*\]|\(\s*dot\s*\)|\{\s*dot\s*\}|\s+dot\s+|\.)\s*[a-z0-9\-]+)*` +
			`\s*(?:\[\s*dot\s*\]|\(\s*dot\s*\)|\{\s*dot\s*\}|\s+dot\s+)\s*[a-z]{2,}\b`)

	urlPattern = regexp.MustCompile(
		`(?i)\b(?:https?://[^\s<>"']+|www\.[^\s<>"']+|` +
			`[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9\-]*[a-z0-9])?)*` +
			`\.(?:com|net|org|io|co|me|info|biz|app|dev|xyz|ai|us|uk|de|ca|au|ly|gg|tv|link|site|online)\b(?:/[^\s<>"']*)?)`)

	phonePattern = regexp.MustCompile(
		`\+\d{1,3}(?:[\s.\-]?\(?\d{1,4}\)?){2,5}` +
			`|\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]\d{4}` +
			`|\d{10,15}` +
			`|\d{3}[\-.]\d{4}`)

	handlePattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_@.])(@[A-Za-z0-9_][A-Za-z0-9_.]{1,29})`)

	messengerLinkPattern = regexp.MustCompile(`(?i)\b(?:t\.me|wa\.me|telegram\.me)/[A-Za-z0-9_+]+`)

	messengerPattern = regexp.MustCompile(`(?i)\b(?:whats\s?app|telegram|signal|skype|wechat|discord|viber)\b`)
)

var messengerHosts = map[string]bool{
	"t.me":        true,
	"wa.me":       true,
	"telegram.me": true,
}

// invitation words around a messenger name that turn it into a contact request
var (
	invitationBefore = map[string]bool{
		"on": true, "via": true, "my": true, "using": true, "over": true,
		"through": true, "add": true, "ping": true, "text": true, "dm": true,
	}
	invitationAfter = map[string]bool{
		"me": true, "at": true, "id": true, "number": true, "handle": true,
		"username": true, "is": true,
	}
)

// Detector is a stateless contact-info scanner with an allow-list of domains
// that may be mentioned freely.
type Detector struct {
	allowed []string
}

// New creates a detector that ignores URLs on the given domains and their subdomains
func New(allowed ...string) *Detector {
	return &Detector{allowed: normalizeDomains(nil, allowed)}
}

// WithAllowed returns a copy with an extended allow-list
func (d *Detector) WithAllowed(domains ...string) *Detector {
	return &Detector{allowed: normalizeDomains(d.allowed, domains)}
}

// Allowed returns the allow-listed domains
func (d *Detector) Allowed() []string {
	out := make([]string, len(d.allowed))
	copy(out, d.allowed)
	return out
}

// Detect scans text and returns every non-overlapping match in text order
func (d *Detector) Detect(text string) Result {
	var candidates []Match

	for _, loc := range emailPattern.FindAllStringIndex(text, -1) {
		candidates = append(candidates, newMatch(CategoryEmail, text, loc[0], loc[1]))
	}
	for _, loc := range obfuscatedEmailPattern.FindAllStringIndex(text, -1) {
		candidates = append(candidates, newMatch(CategoryEmail, text, loc[0], loc[1]))
	}
	candidates = append(candidates, d.urls(text)...)
	candidates = append(candidates, phones(text)...)
	for _, loc := range handlePattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[2], loc[3]
		end = trimTrailing(text, start, end)
		if end-start > 2 {
			candidates = append(candidates, newMatch(CategorySocialHandle, text, start, end))
		}
	}
	for _, loc := range messengerLinkPattern.FindAllStringIndex(text, -1) {
		candidates = append(candidates, newMatch(CategoryOffPlatform, text, loc[0], loc[1]))
	}
	for _, loc := range messengerPattern.FindAllStringIndex(text, -1) {
		if isInvitation(text, loc[0], loc[1]) {
			candidates = append(candidates, newMatch(CategoryOffPlatform, text, loc[0], loc[1]))
		}
	}

	matches := resolveOverlaps(candidates)
	return Result{Flagged: len(matches) > 0, Matches: matches}
}

func (d *Detector) urls(text string) []Match {
	var out []Match
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], trimTrailing(text, loc[0], loc[1])
		if end <= start {
			continue
		}
		host := hostOf(text[start:end])
		if host == "" || d.isAllowed(host) {
			continue
		}
		category := CategoryURL
		if messengerHosts[host] {
			category = CategoryOffPlatform
		}
		out = append(out, newMatch(category, text, start, end))
	}
	return out
}

func (d *Detector) isAllowed(host string) bool {
	for _, domain := range d.allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func phones(text string) []Match {
	var out []Match
	for _, loc := range phonePattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && isDigit(text[start-1]) {
			continue
		}
		if end < len(text) && isDigit(text[end]) {
			continue
		}
		digits := countDigits(text[start:end])
		if digits < 7 || digits > 15 {
			continue
		}
		out = append(out, newMatch(CategoryPhone, text, start, end))
	}
	return out
}

// resolveOverlaps keeps the highest priority match of every overlapping group,
// preferring the longer span on equal priority, and returns them in text order.
func resolveOverlaps(candidates []Match) []Match {
	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := priority[candidates[i].Category], priority[candidates[j].Category]
		if pi != pj {
			return pi < pj
		}
		li, lj := candidates[i].End-candidates[i].Start, candidates[j].End-candidates[j].Start
		if li != lj {
			return li > lj
		}
		return candidates[i].Start < candidates[j].Start
	})

	var kept []Match
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if c.Start < k.End && k.Start < c.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

func isInvitation(text string, start, end int) bool {
	before := strings.Fields(strings.ToLower(text[:start]))
	if len(before) > 0 && invitationBefore[strings.Trim(before[len(before)-1], ",.:;!?")] {
		return true
	}
	after := strings.Fields(strings.ToLower(text[end:]))
	if len(after) > 0 && invitationAfter[strings.Trim(after[0], ",.:;!?")] {
		return true
	}
	return false
}

// hostOf extracts the lowercased host of a URL-like value
func hostOf(value string) string {
	v := strings.ToLower(value)
	if i := strings.Index(v, "://"); i >= 0 {
		v = v[i+3:]
	}
	if i := strings.IndexAny(v, "/?#:"); i >= 0 {
		v = v[:i]
	}
	if i := strings.LastIndex(v, "@"); i >= 0 {
		v = v[i+1:]
	}
	return strings.TrimSuffix(v, ".")
}

func trimTrailing(text string, start, end int) int {
	for end > start && strings.ContainsRune(".,;:!?)]}'\"", rune(text[end-1])) {
		end--
	}
	return end
}

func newMatch(category Category, text string, start, end int) Match {
	return Match{Category: category, Value: text[start:end], Start: start, End: end}
}

func normalizeDomains(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, domain := range list {
			domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
			domain = strings.TrimSuffix(domain, ".")
			if domain == "" || seen[domain] {
				continue
			}
			seen[domain] = true
			out = append(out, domain)
		}
	}
	return out
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Categories returns the distinct categories of matches in first-seen order
func Categories(matches []Match) []Category {
	seen := make(map[Category]bool, len(matches))
	var out []Category
	for _, m := range matches {
		if !seen[m.Category] {
			seen[m.Category] = true
			out = append(out, m.Category)
		}
	}
	return out
}

// Describe returns the sender-facing explanation for a category
func Describe(category Category) string {
	switch category {
	case CategoryEmail:
		return "contains an email address"
	case CategoryPhone:
		return "contains a phone number"
	case CategoryURL:
		return "contains an external link"
	case CategorySocialHandle:
		return "contains a social media handle"
	case CategoryOffPlatform:
		return "invites contact on an outside messaging app"
	default:
		return "contains contact information"
	}
}
