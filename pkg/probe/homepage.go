package probe

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

type homepage struct {
	SchemaTypes []string
	Canonical   string
}

// analyzeHomepage extracts structured-data types (JSON-LD @type values and
// microdata itemtype names) and the canonical link from a homepage.
func analyzeHomepage(body string) homepage {
	var page homepage

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return page
	}

	seen := map[string]bool{}
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		page.SchemaTypes = append(page.SchemaTypes, t)
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		for _, t := range jsonLDTypes(s.Text()) {
			add(t)
		}
	})

	doc.Find("[itemtype]").Each(func(_ int, s *goquery.Selection) {
		itemtype, _ := s.Attr("itemtype")
		for _, field := range strings.Fields(itemtype) {
			add(schemaName(field))
		}
	})

	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		if !hasToken(rel, "canonical") {
			return true
		}
		href, _ := s.Attr("href")
		page.Canonical = strings.TrimSpace(href)
		return page.Canonical == ""
	})

	return page
}

// jsonLDTypes collects @type from a JSON-LD block, which may be a single
// object, an array of objects, or an object carrying an @graph.
func jsonLDTypes(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return nil
	}

	var types []string
	var collect func(node gjson.Result)
	collect = func(node gjson.Result) {
		if node.IsArray() {
			for _, item := range node.Array() {
				collect(item)
			}
			return
		}
		if !node.IsObject() {
			return
		}
		node.ForEach(func(key, value gjson.Result) bool {
			switch key.String() {
			case "@type":
				if value.IsArray() {
					for _, v := range value.Array() {
						types = append(types, v.String())
					}
				} else {
					types = append(types, value.String())
				}
			case "@graph":
				collect(value)
			}
			return true
		})
	}
	collect(gjson.Parse(raw))
	return types
}

// schemaName turns "https://schema.org/Organization" into "Organization".
func schemaName(itemtype string) string {
	if u, err := url.Parse(itemtype); err == nil && u.Path != "" {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		return parts[len(parts)-1]
	}
	return itemtype
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(strings.ToLower(list)) {
		if f == token {
			return true
		}
	}
	return false
}
