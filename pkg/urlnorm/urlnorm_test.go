package urlnorm

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"strips utm params and fragment",
			"https://shop.example.com/products/widget?utm_source=newsletter&color=red#reviews",
			"https://shop.example.com/products/widget?color=red",
		},
		{
			"strips fbclid and gclid",
			"https://shop.example.com/p?fbclid=abc&gclid=def&size=M",
			"https://shop.example.com/p?size=M",
		},
		{
			"sorts remaining params lexicographically",
			"https://shop.example.com/p?zeta=1&alpha=2",
			"https://shop.example.com/p?alpha=2&zeta=1",
		},
		{
			"strips one trailing slash",
			"https://shop.example.com/products/widget/",
			"https://shop.example.com/products/widget",
		},
		{
			"root path keeps its slash",
			"https://shop.example.com/",
			"https://shop.example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	urls := []string{
		"https://shop.example.com/products/widget?utm_source=ad&b=2&a=1#x",
		"https://shop.example.com/p/",
		"https://shop.example.com/",
	}
	for _, u := range urls {
		once, err := Normalize(u)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", u, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", once, err)
		}
		if once != twice {
			t.Errorf("Normalize not idempotent: Normalize(%q) = %q, Normalize(that) = %q", u, once, twice)
		}
	}
}

func TestHost(t *testing.T) {
	got, err := Host("https://Shop.Example.COM/products/widget")
	if err != nil {
		t.Fatalf("Host() error: %v", err)
	}
	if got != "shop.example.com" {
		t.Errorf("Host() = %q, want %q", got, "shop.example.com")
	}
}
