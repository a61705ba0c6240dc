package urlcanon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "amazon product with ref bloat",
			raw:  "https://www.amazon.in/Some-Product-Name/dp/B0ABC12345/ref=sr_1_3?keywords=x&qid=1",
			want: "https://www.amazon.in/dp/B0ABC12345",
		},
		{
			name: "amazon sponsored redirect",
			raw:  "https://www.amazon.in/sspa/click?ie=UTF8&url=%2FBrand%2Fdp%2FB0XYZ98765%2Fref%3Dsr",
			want: "https://www.amazon.in/dp/B0XYZ98765",
		},
		{
			name: "amazon gp product path",
			raw:  "amazon.com/gp/product/B000000001?th=1",
			want: "https://www.amazon.com/dp/B000000001",
		},
		{
			name: "flipkart keeps pid only",
			raw:  "https://www.flipkart.com/apple-iphone-15/p/itm6ac6485515ae4?pid=MOBGTAGPTB3VS24W&lid=LST&marketplace=FLIPKART",
			want: "https://www.flipkart.com/apple-iphone-15/p/itm6ac6485515ae4?pid=MOBGTAGPTB3VS24W",
		},
		{
			name: "generic drops tracking params and fragment",
			raw:  "HTTPS://Shop.Example.com/item/42?utm_source=mail&color=red&gclid=abc#reviews",
			want: "https://shop.example.com/item/42?color=red",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	raws := []string{
		"https://www.amazon.in/x/dp/B0ABC12345/ref=1",
		"https://www.flipkart.com/p/itm1?pid=P1&lid=L",
		"https://www.walmart.com/ip/Nintendo-Switch/5464902?athbdg=L1600&utm_medium=x",
		"bestbuy.com/site/ps5/6426149.p?skuId=6426149",
	}
	for _, raw := range raws {
		once, err := Canonicalize(raw)
		require.NoError(t, err)
		twice, err := Canonicalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "canonicalize should be idempotent for %s", raw)
	}
}

func TestCanonicalize_Invalid(t *testing.T) {
	_, err := Canonicalize("   ")
	assert.Error(t, err)

	_, err = Canonicalize("https://")
	assert.Error(t, err)
}

func TestSiteID(t *testing.T) {
	assert.Equal(t, "amazon", SiteID("https://www.amazon.in/dp/B0ABC12345"))
	assert.Equal(t, "flipkart", SiteID("https://flipkart.com/p/itm1"))
	assert.Equal(t, "localhost", SiteID("http://localhost:8080/x"))
	assert.Equal(t, "", SiteID("::bad"))
}
