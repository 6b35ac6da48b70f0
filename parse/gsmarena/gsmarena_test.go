package gsmarena

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dreamerjackson/devcat/spider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = "https://www.example.com/"

func TestParseBrands(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []spider.Brand
		wantErr error
	}{
		{
			name: "index",
			body: `<div class="st-text"><table><tr>
				<td><a href="samsung-phones-9.php">Samsung<br><span>1350 devices</span></a></td>
				<td><a href="acer-phones-59.php">Acer<span>100 devices</span></a></td>
				<td><a href="nokia-phones-1.php">Nokia</a></td>
				<td><a href="">Empty</a></td>
				<td><a href="x.php">  </a></td>
			</tr></table></div>`,
			want: []spider.Brand{
				{Name: "Acer", URL: base + "acer-phones-59.php", DeviceCount: 100},
				{Name: "Nokia", URL: base + "nokia-phones-1.php", DeviceCount: 0},
				{Name: "Samsung", URL: base + "samsung-phones-9.php", DeviceCount: 1350},
			},
		},
		{
			name:    "missing container",
			body:    `<div class="brandmenu-v2"><a href="acer-phones-59.php">Acer</a></div>`,
			wantErr: ErrStructure,
		},
		{
			name:    "no anchors",
			body:    `<div class="st-text"><p>maintenance</p></div>`,
			wantErr: ErrStructure,
		},
		{
			name:    "no valid brands",
			body:    `<div class="st-text"><a href="">Acer</a><a href="a.php">12 devices</a></div>`,
			wantErr: ErrStructure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBrands([]byte(tt.body), base)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDeviceList(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		pageURL  string
		wantLen  int
		wantNext string
	}{
		{
			name: "first page",
			body: `<div class="makers"><ul>
				<li><a href="acme_x1-100.php"><img src="https://cdn.example.com/x1.jpg"><strong><span>Acme   X1</span></strong></a></li>
				<li><a href="acme_x2-101.php"><img src="/x2.jpg"><strong><span>Acme X2</span></strong></a></li>
				<li><span>no link</span></li>
			</ul></div>
			<div class="nav-pages"><strong>1</strong><a href="acme-phones-f-1-0-p2.php">2</a><a href="acme-phones-f-1-0-p3.php">3</a></div>`,
			pageURL:  base + "acme-phones-1.php",
			wantLen:  2,
			wantNext: base + "acme-phones-f-1-0-p2.php",
		},
		{
			name: "last page",
			body: `<div class="makers"><ul><li><a href="acme_x9-109.php">Acme X9</a></li></ul></div>
			<div class="nav-pages"><a href="acme-phones-f-1-0-p2.php">2</a><strong>3</strong></div>`,
			pageURL: base + "acme-phones-f-1-0-p3.php",
			wantLen: 1,
		},
		{
			name: "hash next",
			body: `<div class="makers"><ul><li><a href="a-1.php">A</a></li></ul></div>
			<div class="nav-pages"><strong>1</strong><a href="#">2</a></div>`,
			pageURL: base + "acme-phones-1.php",
			wantLen: 1,
		},
		{
			name:    "empty brand",
			body:    `<div class="review-body">no devices</div>`,
			pageURL: base + "acme-phones-1.php",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, next, err := ParseDeviceList([]byte(tt.body), tt.pageURL)
			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
			assert.Equal(t, tt.wantNext, next)
		})
	}

	got, _, err := ParseDeviceList([]byte(tests[0].body), tests[0].pageURL)
	require.NoError(t, err)
	assert.Equal(t, spider.DeviceStub{
		Name:     "Acme X1",
		URL:      base + "acme_x1-100.php",
		ImageURL: "https://cdn.example.com/x1.jpg",
	}, got[0])
	assert.Equal(t, "https://www.example.com/x2.jpg", got[1].ImageURL)
}

func TestParseSpecsDisplayTable(t *testing.T) {
	body := `<h1 class="specs-phone-name-title">Acme X1</h1>
	<table><tr><th rowspan="2">Display</th><td class="ttl">Type</td><td class="nfo">IPS LCD</td></tr>
	<tr><td class="ttl">Size</td><td class="nfo">6.5 inches</td></tr></table>`

	page, err := ParseSpecs([]byte(body), base+"acme_x1-100.php")
	require.NoError(t, err)
	assert.Equal(t, "Acme X1", page.Device.DisplayName)
	assert.Equal(t, base+"acme_x1-100.php", page.Device.DeviceURL)

	b, err := json.Marshal(page.Device.Specifications)
	require.NoError(t, err)
	assert.Equal(t, `{"Display":{"Type":"IPS LCD","Size":"6.5 inches"}}`, string(b))
}

func TestParseSpecs(t *testing.T) {
	body := `<h1 class="specs-phone-name-title"> Acme  X1 </h1>
	<div class="specs-photo-main"><a href="acme_x1-pictures-100.php"><img src="https://cdn.example.com/big/x1.jpg"></a></div>
	<table>
	  <tr><th>Network</th><td class="ttl">Technology</td><td class="nfo">GSM / LTE</td></tr>
	  <tr><td class="ttl">2G bands</td><td class="nfo">GSM 850 / 900<br>CDMA 800</td></tr>
	  <tr><td class="ttl">4G bands</td><td class="nfo">1, 3, 7 - International 2, 4, 66 - USA</td></tr>
	  <tr><td class="ttl">5G bands</td><td class="nfo">1, 78 SA/NSA</td></tr>
	</table>
	<table>
	  <tr><th>Memory</th><td class="ttl">Internal</td><td class="nfo">128GB 8GB RAM</td></tr>
	  <tr><td class="ttl">&nbsp;</td><td class="nfo">256GB 8GB RAM</td></tr>
	</table>
	<table><tr><th>Empty</th></tr></table>
	<table><tr><td>no header</td><td>x</td></tr></table>`

	page, err := ParseSpecs([]byte(body), base+"acme_x1-100.php")
	require.NoError(t, err)
	d := page.Device
	assert.Equal(t, "Acme X1", d.DisplayName)
	assert.Equal(t, []string{"https://cdn.example.com/big/x1.jpg"}, d.Pictures)
	assert.Equal(t, base+"acme_x1-pictures-100.php", page.GalleryURL)

	require.Len(t, d.Specifications, 2)
	assert.Equal(t, "Network", d.Specifications[0].Name)
	assert.Equal(t, "Memory", d.Specifications[1].Name)

	tests := []struct {
		category, field string
		want            spider.SpecValue
	}{
		{"Network", "Technology", spider.Text("GSM / LTE")},
		{"Network", "2G bands", spider.List("GSM 850 / 900", "CDMA 800")},
		{"Network", "4G bands", spider.List("1, 3, 7 - International", "2, 4, 66 - USA")},
		{"Network", "5G bands", spider.Text("1, 78 SA/NSA")},
		{"Memory", "Internal", spider.List("128GB 8GB RAM", "256GB 8GB RAM")},
	}
	for _, tt := range tests {
		got, ok := d.Specifications.Get(tt.category, tt.field)
		require.True(t, ok, tt.field)
		assert.Equal(t, tt.want, got, tt.field)
	}
}

func TestParseSpecsKeyedFields(t *testing.T) {
	body := `<h1 class="specs-phone-name-title">Acme X1</h1>
	<table>
	  <tr><th>Network</th><td class="ttl">Technology</td><td class="nfo" data-spec="nettech">GSM / HSPA / LTE</td></tr>
	</table>
	<table>
	  <tr><th>Display</th><td class="ttl">Type</td><td class="nfo" data-spec="displaytype">OLED, 120Hz</td></tr>
	  <tr><td class="ttl">Protection</td><td class="nfo">Glass</td></tr>
	</table>
	<table>
	  <tr><th>Main Camera</th><td class="ttl">Dual</td><td class="nfo" data-spec="cam1modules">50 MP, (wide)<br>12 MP, (ultrawide)</td></tr>
	</table>
	<table>
	  <tr><th>Selfie camera</th><td class="ttl">Single</td><td class="nfo">12 MP</td></tr>
	</table>
	<table>
	  <tr><th>Misc</th><td class="ttl">Colors</td><td class="nfo" data-spec="colors">Black, Blue</td></tr>
	  <tr><td class="ttl">Price</td><td class="nfo" data-spec="price"><a href="price.php3?idPhone=100">$ 799.99</a></td></tr>
	</table>`

	page, err := ParseSpecs([]byte(body), base+"acme_x1-100.php")
	require.NoError(t, err)
	d := page.Device

	b, err := json.Marshal(d.Detailed)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"network": {"nettech": "GSM / HSPA / LTE"},
		"display": {"displaytype": "OLED, 120Hz", "protection": "Glass"},
		"main_camera": {"cam1modules": "50 MP, (wide)\n12 MP, (ultrawide)"},
		"selfie_camera": {"single": "12 MP"},
		"misc": {"colors": "Black, Blue", "price": "$ 799.99"}
	}`, string(b))

	assert.Equal(t, spider.Highlights{
		Technology:   "GSM / HSPA / LTE",
		DisplayType:  "OLED, 120Hz",
		Colors:       "Black, Blue",
		MainCamera:   "50 MP, (wide)\n12 MP, (ultrawide)",
		SelfieCamera: "12 MP",
	}, d.Highlights)
	assert.Equal(t, spider.Price{Text: "$ 799.99", URL: base + "price.php3?idPhone=100"}, d.Price)

	// the labelled layout is untouched
	v, ok := d.Specifications.Get("Display", "Protection")
	require.True(t, ok)
	assert.Equal(t, "Glass", v.String())
}

func TestParseSpecsHighlightsFallback(t *testing.T) {
	body := `<h1 class="specs-phone-name-title">Acme X1</h1>
	<table><tr><th>Platform</th><td class="ttl">OS</td><td class="nfo">Android 14</td></tr></table>
	<table><tr><th>Battery</th><td class="ttl">Type</td><td class="nfo">Li-Ion 5000 mAh</td></tr></table>`

	page, err := ParseSpecs([]byte(body), base+"acme_x1-100.php")
	require.NoError(t, err)
	assert.Equal(t, "Android 14", page.Device.Highlights.OS)
	assert.Equal(t, "Li-Ion 5000 mAh", page.Device.Highlights.BatteryType)
	assert.Equal(t, spider.Price{}, page.Device.Price)
}

func TestParseSpecsStructure(t *testing.T) {
	_, err := ParseSpecs([]byte(`<html><body><p>captcha</p></body></html>`), base+"acme_x1-100.php")
	assert.True(t, errors.Is(err, ErrStructure))

	// a name alone is enough
	page, err := ParseSpecs([]byte(`<h1 class="specs-phone-name-title">Acme X1</h1>`), base+"acme_x1-100.php")
	require.NoError(t, err)
	assert.Empty(t, page.Device.Specifications)
	assert.Equal(t, base+"acme_x1-pictures-100.php", page.GalleryURL)
}

func TestPicturesURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{base + "samsung_galaxy_s24-12773.php", base + "samsung_galaxy_s24-pictures-12773.php"},
		{base + "nokia_3310-1.php?x=1", base + "nokia_3310-pictures-1.php"},
		{base + "nokia.php", ""},
		{base + "nokia-1.html", ""},
		{base + "nokia-.php", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PicturesURL(tt.in), tt.in)
	}
}

func TestParseGallery(t *testing.T) {
	body := `<div id="pictures-list"><h2>Acme X1 pictures</h2>
	<img src="https://cdn.example.com/x1-1.jpg">
	<img src="/img/placeholder.jpg">
	<img src="x1-2.jpg">
	<img alt="no src"></div>`

	got, err := ParseGallery([]byte(body), base+"acme_x1-pictures-100.php")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/x1-1.jpg", base + "x1-2.jpg"}, got)
}

func TestMergePictures(t *testing.T) {
	got := MergePictures([]string{"a", "b"}, "b", "", "c", "a")
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Empty(t, MergePictures(nil))
}
