package gsmarena

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dreamerjackson/devcat/spider"
	"golang.org/x/net/html"
)

var regionRe = regexp.MustCompile(`\s-\s(International|USA|EU|Europe|China|Japan|Korea|India|Global|LATAM)\b`)

// SpecPage is a parsed device page. GalleryURL points at the pictures page and
// may be empty.
type SpecPage struct {
	Device     spider.DeviceSpecification
	GalleryURL string
}

// ParseSpecs parses a device page. Categories without usable rows are skipped;
// a page with neither a device name nor any specification table is an
// ErrStructure.
func ParseSpecs(body []byte, pageURL string) (SpecPage, error) {
	doc, err := newDocument(body)
	if err != nil {
		return SpecPage{}, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return SpecPage{}, fmt.Errorf("parse page url: %w", err)
	}

	name := collapse(doc.Find("h1.specs-phone-name-title").First().Text())

	var specs, detailed spider.Specifications
	tables := 0
	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		th := table.Find("th").First()
		if th.Length() == 0 {
			return
		}
		tables++
		if c, keyed, ok := parseCategory(collapse(th.Text()), table); ok {
			specs.Add(c)
			detailed.Add(keyed)
		}
	})

	if name == "" && tables == 0 {
		return SpecPage{}, fmt.Errorf("device page %s: %w", pageURL, ErrStructure)
	}

	return SpecPage{
		Device: spider.DeviceSpecification{
			DeviceURL:      pageURL,
			DisplayName:    name,
			Pictures:       primaryPictures(doc, base),
			Specifications: specs,
			Detailed:       detailed,
			Highlights:     highlights(doc, specs),
			Price:          price(doc, base),
		},
		GalleryURL: galleryURL(doc, base),
	}, nil
}

// parseCategory returns the category under its page labels and, as keyed, under
// snake_case names: the cell's data-spec attribute or the snake_cased label.
func parseCategory(name string, table *goquery.Selection) (c, keyed spider.Category, ok bool) {
	c = spider.Category{Name: name}
	keyed = spider.Category{Name: snake(name)}
	if name == "" {
		return c, keyed, false
	}

	var last, lastKey string
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		field := collapse(cells.Eq(0).Text())
		value := fieldValue(name, field, cells.Eq(1))

		// an empty title cell continues the previous field
		if field == "" {
			if last == "" {
				return
			}
			prev, _ := c.Get(last)
			for _, item := range value.Items() {
				if item == "" {
					continue
				}
				prev = prev.Append(item)
			}
			c.Set(last, prev)
			keyed.Set(lastKey, prev)
			return
		}

		key := specKey(cells.Eq(1))
		if key == "" {
			key = specKey(cells.Eq(0))
		}
		if key == "" {
			key = snake(field)
		}
		c.Set(field, value)
		keyed.Set(key, value)
		last, lastKey = field, key
	})

	return c, keyed, len(c.Fields) > 0
}

func specKey(cell *goquery.Selection) string {
	return strings.TrimSpace(cell.AttrOr("data-spec", ""))
}

func snake(s string) string {
	return strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
}

// highlights reads the headline fields by data-spec key, falling back to the
// labelled tables for pages without the attributes.
func highlights(doc *goquery.Document, specs spider.Specifications) spider.Highlights {
	text := func(key, category, field string) string {
		if cell := doc.Find(`td.nfo[data-spec="` + key + `"]`).First(); cell.Length() > 0 {
			return collapse(cell.Text())
		}
		v, _ := specs.Get(category, field)
		return v.String()
	}
	lines := func(key string) string {
		if cell := doc.Find(`td.nfo[data-spec="` + key + `"]`).First(); cell.Length() > 0 {
			return strings.Join(cellLines(cell), "\n")
		}
		return ""
	}
	firstOf := func(category string, fields ...string) string {
		for _, f := range fields {
			if v, ok := specs.Get(category, f); ok {
				return v.String()
			}
		}
		return ""
	}

	h := spider.Highlights{
		Technology:   text("nettech", "Network", "Technology"),
		DisplayType:  text("displaytype", "Display", "Type"),
		Dimensions:   text("dimensions", "Body", "Dimensions"),
		OS:           text("os", "Platform", "OS"),
		Colors:       text("colors", "Misc", "Colors"),
		BatteryType:  text("batdescription1", "Battery", "Type"),
		Sensors:      text("sensors", "Features", "Sensors"),
		MainCamera:   lines("cam1modules"),
		SelfieCamera: lines("cam2modules"),
		Features:     lines("featuresother"),
	}
	if h.MainCamera == "" {
		h.MainCamera = firstOf("Main Camera", "Single", "Dual", "Triple", "Quad")
	}
	if h.SelfieCamera == "" {
		h.SelfieCamera = firstOf("Selfie camera", "Single", "Dual")
	}
	return h
}

func price(doc *goquery.Document, base *url.URL) spider.Price {
	cell := doc.Find(`td.nfo[data-spec="price"]`).First()
	if cell.Length() == 0 {
		return spider.Price{}
	}
	p := spider.Price{Text: collapse(cell.Text())}
	if href, ok := cell.Find("a[href]").First().Attr("href"); ok && href != "" {
		p.URL = resolve(base, href)
	}
	return p
}

func fieldValue(category, field string, cell *goquery.Selection) spider.SpecValue {
	lines := cellLines(cell)
	if category == "Network" && strings.HasSuffix(strings.ToLower(field), "bands") {
		return bandValue(lines)
	}
	return spider.Text(strings.Join(lines, "\n"))
}

// bandValue splits band cells listing several model variants, either on
// separate lines or inline as "... - International ... - USA".
func bandValue(lines []string) spider.SpecValue {
	if len(lines) > 1 {
		return spider.List(lines...)
	}
	text := strings.Join(lines, "\n")
	matches := regionRe.FindAllStringIndex(text, -1)
	if len(matches) < 2 {
		return spider.Text(text)
	}

	var items []string
	start := 0
	for _, m := range matches {
		if part := strings.TrimSpace(strings.Trim(text[start:m[1]], ",;")); part != "" {
			items = append(items, part)
		}
		start = m[1]
	}
	if rest := strings.TrimSpace(strings.Trim(text[start:], ",;")); rest != "" {
		items = append(items, rest)
	}
	return spider.List(items...)
}

// cellLines returns the non-empty, whitespace-collapsed lines of a cell,
// treating <br> as a line break.
func cellLines(s *goquery.Selection) []string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.Data == "br":
			b.WriteByte('\n')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}

	var lines []string
	for _, l := range strings.Split(b.String(), "\n") {
		if l = collapse(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func primaryPictures(doc *goquery.Document, base *url.URL) []string {
	photo := doc.Find("div.specs-photo-main")
	if src, ok := photo.Find("img[src]").First().Attr("src"); ok && src != "" {
		return []string{resolve(base, src)}
	}
	if href, ok := photo.Find("a[href]").First().Attr("href"); ok && href != "" {
		return []string{resolve(base, href)}
	}
	return nil
}

func galleryURL(doc *goquery.Document, base *url.URL) string {
	if href, ok := doc.Find(`a[href*="-pictures-"]`).First().Attr("href"); ok && href != "" {
		return resolve(base, href)
	}
	return PicturesURL(base.String())
}

// PicturesURL derives the pictures page of a device page URL:
// ".../acme_x1-1234.php" becomes ".../acme_x1-pictures-1234.php".
func PicturesURL(deviceURL string) string {
	u, err := url.Parse(deviceURL)
	if err != nil {
		return ""
	}
	file := path.Base(u.Path)
	if !strings.HasSuffix(file, ".php") {
		return ""
	}
	stem := strings.TrimSuffix(file, ".php")
	i := strings.LastIndex(stem, "-")
	if i <= 0 || i == len(stem)-1 {
		return ""
	}
	u.Path = path.Join(path.Dir(u.Path), stem[:i]+"-pictures-"+stem[i+1:]+".php")
	u.RawQuery = ""
	return u.String()
}

// ParseGallery returns the images of a pictures page, placeholders excluded.
func ParseGallery(body []byte, pageURL string) ([]string, error) {
	doc, err := newDocument(body)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var pics []string
	doc.Find("#pictures-list img[src]").Each(func(i int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", ""))
		if src == "" || strings.Contains(path.Base(src), "placeholder") {
			return
		}
		pics = append(pics, resolve(base, src))
	})
	return pics, nil
}

// MergePictures appends extra to pics, skipping duplicates.
func MergePictures(pics []string, extra ...string) []string {
	seen := make(map[string]bool, len(pics)+len(extra))
	out := make([]string, 0, len(pics)+len(extra))
	for _, p := range append(append([]string(nil), pics...), extra...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
