package parser

// Rule selects one value from a page. When Attr is empty the element's text
// is used, otherwise the named attribute.
type Rule struct {
	Selector string `mapstructure:"selector" json:"selector"`
	Attr     string `mapstructure:"attr" json:"attr,omitempty"`
}

// SiteRules lists, per field, the rules tried in order for one site.
type SiteRules struct {
	Title []Rule `mapstructure:"title" json:"title"`
	Price []Rule `mapstructure:"price" json:"price"`
	Image []Rule `mapstructure:"image" json:"image"`
}

// genericRules apply to every page after the site-specific rules fail.
var genericRules = SiteRules{
	Title: []Rule{
		{Selector: `meta[property="og:title"]`, Attr: "content"},
		{Selector: `meta[name="twitter:title"]`, Attr: "content"},
		{Selector: "title"},
	},
	Price: []Rule{
		{Selector: `meta[property="product:price:amount"]`, Attr: "content"},
		{Selector: `meta[property="og:price:amount"]`, Attr: "content"},
		{Selector: `[itemprop="price"]`, Attr: "content"},
		{Selector: `[itemprop="price"]`},
	},
	Image: []Rule{
		{Selector: `meta[property="og:image"]`, Attr: "content"},
		{Selector: `meta[name="twitter:image"]`, Attr: "content"},
	},
}

// DefaultSites returns the built-in selector table keyed by site id.
func DefaultSites() map[string]SiteRules {
	return map[string]SiteRules{
		"amazon": {
			Title: []Rule{{Selector: "#productTitle"}, {Selector: "#title"}},
			Price: []Rule{
				{Selector: ".a-price .a-offscreen"},
				{Selector: "span.a-price-whole"},
				{Selector: "#priceblock_dealprice"},
				{Selector: "#priceblock_ourprice"},
			},
			Image: []Rule{
				{Selector: "#landingImage", Attr: "data-old-hires"},
				{Selector: "#landingImage", Attr: "src"},
				{Selector: "#imgBlkFront", Attr: "src"},
			},
		},
		"flipkart": {
			Title: []Rule{{Selector: "span.VU-ZEz"}, {Selector: "span.B_NuCI"}},
			Price: []Rule{
				{Selector: "div.Nx9bqj.CxhGGd"},
				{Selector: "div._30jeq3._16Jk6d"},
			},
			Image: []Rule{
				{Selector: "img.DByuf4", Attr: "src"},
				{Selector: "img._396cs4", Attr: "src"},
			},
		},
		"walmart": {
			Title: []Rule{{Selector: `h1[itemprop="name"]`}, {Selector: "h1#main-title"}},
			Price: []Rule{
				{Selector: `span[itemprop="price"]`},
				{Selector: `[data-testid="price-wrap"] span`},
			},
			Image: []Rule{{Selector: `img[data-testid="hero-image"]`, Attr: "src"}},
		},
		"bestbuy": {
			Title: []Rule{{Selector: ".sku-title h1"}, {Selector: "h1.heading-5"}},
			Price: []Rule{
				{Selector: ".priceView-customer-price span"},
				{Selector: `[data-testid="customer-price"] span`},
			},
			Image: []Rule{{Selector: "img.primary-image", Attr: "src"}},
		},
	}
}

// MergeSites overlays configured site rules on top of the defaults. A
// configured site replaces the built-in entry of the same id.
func MergeSites(base, overrides map[string]SiteRules) map[string]SiteRules {
	out := make(map[string]SiteRules, len(base)+len(overrides))
	for id, r := range base {
		out[id] = r
	}
	for id, r := range overrides {
		out[id] = r
	}
	return out
}
