// Package gsmarena parses the brand index, brand listing and device pages of
// the catalog site. Parsers are pure: bytes in, domain values out.
package gsmarena

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dreamerjackson/devcat/spider"
)

// ErrStructure marks a page that lacks the markup the parser depends on.
var ErrStructure = errors.New("unexpected page structure")

// BrandIndexPath is the brand index, relative to the site base URL.
const BrandIndexPath = "makers.php3"

var (
	brandNameRe  = regexp.MustCompile(`\d+.*$`)
	brandCountRe = regexp.MustCompile(`(\d+)\s*devices?`)
)

func newDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	return doc, nil
}

// ParseBrands parses the brand index. A page without the brand container, or
// one yielding no usable brand, is an ErrStructure: a partial list is never
// returned.
func ParseBrands(body []byte, base string) ([]spider.Brand, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, err
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	menu := doc.Find("div.st-text").First()
	if menu.Length() == 0 {
		return nil, fmt.Errorf("brand index: missing div.st-text: %w", ErrStructure)
	}
	anchors := menu.Find("a")
	if anchors.Length() == 0 {
		return nil, fmt.Errorf("brand index: no brand links: %w", ErrStructure)
	}

	var brands []spider.Brand
	seen := make(map[string]bool)
	anchors.Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := collapse(s.Text())
		name := strings.TrimSpace(brandNameRe.ReplaceAllString(text, ""))
		if name == "" || strings.TrimSpace(href) == "" {
			return
		}
		u := resolve(baseURL, href)
		if seen[u] {
			return
		}
		seen[u] = true

		count := 0
		if m := brandCountRe.FindStringSubmatch(text); m != nil {
			count, _ = strconv.Atoi(m[1])
		}
		brands = append(brands, spider.Brand{Name: name, URL: u, DeviceCount: count})
	})
	if len(brands) == 0 {
		return nil, fmt.Errorf("brand index: no valid brands: %w", ErrStructure)
	}

	sort.SliceStable(brands, func(i, j int) bool {
		return strings.ToLower(brands[i].Name) < strings.ToLower(brands[j].Name)
	})
	return brands, nil
}

// ParseDeviceList parses one brand listing page. next is the absolute URL of
// the following page, empty on the last page.
func ParseDeviceList(body []byte, pageURL string) (devices []spider.DeviceStub, next string, err error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, "", err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse page url: %w", err)
	}

	doc.Find("div.makers ul li").Each(func(i int, s *goquery.Selection) {
		link := s.Find("a").First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		stub := spider.DeviceStub{
			Name: collapse(link.Text()),
			URL:  resolve(base, href),
		}
		if src, ok := s.Find("img").First().Attr("src"); ok {
			stub.ImageURL = resolve(base, src)
		}
		devices = append(devices, stub)
	})

	current := doc.Find("div.nav-pages strong").First()
	if current.Length() > 0 {
		a := current.NextAllFiltered("a").First()
		if href, ok := a.Attr("href"); ok && href != "" && href != "#" {
			next = resolve(base, href)
		}
	}

	return devices, next, nil
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
