package fetch

import (
	"regexp"
	"strings"
)

// RegionType classifies a high-value page region.
type RegionType string

const (
	RegionFooter RegionType = "footer"
	RegionCareer RegionType = "career_nav"
	RegionTech   RegionType = "tech_fingerprint"
)

// maxRegionContent bounds the excerpt carried per region so region detection
// reduces, not inflates, the volume passed to extraction.
const maxRegionContent = 2000

// Region is a candidate high-value slice of a page.
type Region struct {
	Selector   string     `json:"selector"`
	Type       RegionType `json:"type"`
	Confidence float64    `json:"confidence"`
	Content    string     `json:"content"`
}

var (
	footerRe = regexp.MustCompile(`(?is)<footer[^>]*>(.*?)</footer>`)
	navRe    = regexp.MustCompile(`(?is)<nav[^>]*>(.*?)</nav>`)
	scriptRe = regexp.MustCompile(`(?i)<script[^>]+src=["']([^"']+)["']`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
)

var careerKeywords = []string{"career", "careers", "jobs", "join us", "we're hiring", "team", "open positions"}

// techFingerprints maps script URL fragments to the technology they reveal.
var techFingerprints = map[string]string{
	"stripe.com":         "stripe",
	"intercom.io":        "intercom",
	"segment.com":        "segment",
	"hs-scripts.com":     "hubspot",
	"googletagmanager":   "google-tag-manager",
	"hotjar.com":         "hotjar",
	"drift.com":          "drift",
	"salesforce.com":     "salesforce",
	"marketo.net":        "marketo",
	"snowplowanalytics":  "snowplow",
	"cdn.shopify.com":    "shopify",
	"typekit.net":        "adobe-fonts",
}

// IdentifyHighValueRegions scans raw HTML for the page slices most likely to
// carry signals: footers (contact, legal entity), navigation with career
// keywords, and script-tag technology fingerprints.
func IdentifyHighValueRegions(html string) []Region {
	var regions []Region

	for _, m := range footerRe.FindAllStringSubmatch(html, 3) {
		text := strings.TrimSpace(tagRe.ReplaceAllString(m[1], " "))
		if text == "" {
			continue
		}
		regions = append(regions, Region{
			Selector:   "footer",
			Type:       RegionFooter,
			Confidence: 0.9,
			Content:    truncate(text, maxRegionContent),
		})
	}

	for _, m := range navRe.FindAllStringSubmatch(html, 5) {
		text := strings.TrimSpace(tagRe.ReplaceAllString(m[1], " "))
		lower := strings.ToLower(text)
		for _, kw := range careerKeywords {
			if strings.Contains(lower, kw) {
				regions = append(regions, Region{
					Selector:   "nav",
					Type:       RegionCareer,
					Confidence: 0.7,
					Content:    truncate(text, maxRegionContent),
				})
				break
			}
		}
	}

	seen := map[string]bool{}
	for _, m := range scriptRe.FindAllStringSubmatch(html, -1) {
		src := strings.ToLower(m[1])
		for fragment, tech := range techFingerprints {
			if strings.Contains(src, fragment) && !seen[tech] {
				seen[tech] = true
				regions = append(regions, Region{
					Selector:   "script[src]",
					Type:       RegionTech,
					Confidence: 0.95,
					Content:    tech,
				})
			}
		}
	}

	return regions
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
