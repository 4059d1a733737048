package extract

import (
	"bytes"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/wysh3/perplexity-mcp-zerver-sub001/pkg/types"
)

// MaxLinksPerPage bounds how many same-domain links a single page contributes
// to the next exploration depth.
const MaxLinksPerPage = 10

// SameDomainLinks discovers anchors on the page that stay within the page's
// own host, ranked by anchor text length. Longer anchors tend to describe
// richer destinations than "here" or icon links.
func SameDomainLinks(html []byte, pageURL *url.URL, limit int) ([]types.SameDomainLink, error) {
	if limit <= 0 {
		limit = MaxLinksPerPage
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var links []types.SameDomainLink

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if skipHref(href) {
			return
		}

		resolved, err := pageURL.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if !strings.EqualFold(resolved.Hostname(), pageURL.Hostname()) {
			return
		}

		key := resolved.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}

		links = append(links, types.SameDomainLink{
			AbsoluteURL: resolved,
			AnchorText:  strings.TrimSpace(sel.Text()),
		})
	})

	sort.SliceStable(links, func(i, j int) bool {
		return len(links[i].AnchorText) > len(links[j].AnchorText)
	})

	if len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "data:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
