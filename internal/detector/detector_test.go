package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_Categories(t *testing.T) {
	d := New("domaindesk.io")

	tests := []struct {
		name     string
		text     string
		category Category
		value    string
	}{
		{"dashed phone", "call me at 555-123-4567", CategoryPhone, "555-123-4567"},
		{"parenthesised phone", "my number is (555) 123-4567 anytime", CategoryPhone, "(555) 123-4567"},
		{"dotted phone", "555.123.4567", CategoryPhone, "555.123.4567"},
		{"international phone", "ring +44 20 7946 0958 after six", CategoryPhone, "+44 20 7946 0958"},
		{"north american international", "+1 555 123 4567", CategoryPhone, "+1 555 123 4567"},
		{"contiguous digits", "text 5551234567 please", CategoryPhone, "5551234567"},
		{"local phone", "dial 555-1234", CategoryPhone, "555-1234"},
		{"plain email", "write to john.doe@mail.com today", CategoryEmail, "john.doe@mail.com"},
		{"bracketed email", "john [at] mail [dot] com", CategoryEmail, "john [at] mail [dot] com"},
		{"spelled email", "reach john at mail dot com", CategoryEmail, "john at mail dot com"},
		{"https url", "see https://example.net/offer for details", CategoryURL, "https://example.net/offer"},
		{"www url", "visit www.broker-site.com.", CategoryURL, "www.broker-site.com"},
		{"bare host", "my site is mybrokerage.co", CategoryURL, "mybrokerage.co"},
		{"social handle", "follow @domainking_99 for updates", CategorySocialHandle, "@domainking_99"},
		{"messenger link", "join t.me/domainking", CategoryOffPlatform, "t.me/domainking"},
		{"messenger invitation", "let's talk on WhatsApp instead", CategoryOffPlatform, "WhatsApp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := d.Detect(tt.text)

			require.True(t, result.Flagged, "expected %q to be flagged", tt.text)
			require.NotEmpty(t, result.Matches)
			var found bool
			for _, m := range result.Matches {
				if m.Category == tt.category && m.Value == tt.value {
					found = true
				}
			}
			assert.True(t, found, "expected %s match %q in %+v", tt.category, tt.value, result.Matches)
		})
	}
}

func TestDetect_CleanText(t *testing.T) {
	d := New("domaindesk.io")

	clean := []string{
		"",
		"Hello, I am interested in this domain for my bakery.",
		"Our budget is between 5000 and 10000 USD.",
		"We plan to launch in 2025-2026 after the rebrand.",
		"Please see the listing on https://domaindesk.io/assets/123",
		"The marketplace at www.domaindesk.io has the terms.",
		"There is a strong signal of interest from our board.",
		"Price was 4.5 times revenue last year.",
	}

	for _, text := range clean {
		result := d.Detect(text)
		assert.False(t, result.Flagged, "expected %q to be clean, got %+v", text, result.Matches)
		assert.Empty(t, result.Matches)
	}
}

func TestDetect_AllowedAssetDomain(t *testing.T) {
	d := New("domaindesk.io")
	text := "I want to buy coolname.com for my shop"

	assert.True(t, d.Detect(text).Flagged)
	assert.False(t, d.WithAllowed("coolname.com").Detect(text).Flagged)
	// the original detector is not modified
	assert.True(t, d.Detect(text).Flagged)
	assert.Equal(t, []string{"domaindesk.io"}, d.Allowed())
}

func TestDetect_EmailWinsOverlap(t *testing.T) {
	result := New().Detect("contact sales@brokerage.com")

	require.Len(t, result.Matches, 1)
	assert.Equal(t, CategoryEmail, result.Matches[0].Category)
	assert.Equal(t, "sales@brokerage.com", result.Matches[0].Value)
}

func TestDetect_MatchesInTextOrder(t *testing.T) {
	text := "email a@b.com or call 555-123-4567 or @handle_x"
	result := New().Detect(text)

	require.Len(t, result.Matches, 3)
	assert.Equal(t, CategoryEmail, result.Matches[0].Category)
	assert.Equal(t, CategoryPhone, result.Matches[1].Category)
	assert.Equal(t, CategorySocialHandle, result.Matches[2].Category)
	assert.Equal(t, []Category{CategoryEmail, CategoryPhone, CategorySocialHandle}, Categories(result.Matches))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "contains a phone number", Describe(CategoryPhone))
	assert.Equal(t, "contains contact information", Describe(Category("unknown")))
}
