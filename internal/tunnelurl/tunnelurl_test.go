package tunnelurl

import "testing"

func TestBaseURLAlwaysHTTP(t *testing.T) {
	got := BaseURL(Inputs{Host: "example.com", Port: 4020})
	if got != "http://example.com:4020" {
		t.Fatalf("got %q", got)
	}
}

func TestBaseURLBracketsIPv6(t *testing.T) {
	got := BaseURL(Inputs{Host: "::1", Port: 4020})
	if got != "http://[::1]:4020" {
		t.Fatalf("got %q", got)
	}

	got2 := BaseURL(Inputs{Host: "[::1]", Port: 4020})
	if got2 != "http://[::1]:4020" {
		t.Fatalf("got %q (double-bracket)", got2)
	}
}

func TestConnectionURLTable(t *testing.T) {
	cases := []struct {
		name string
		in   Inputs
		want string
	}{
		{
			name: "ssl with tailscale hostname omits port",
			in: Inputs{
				Host: "10.0.0.1", Port: 4020, PreferSSL: true, HTTPSAvailable: true,
				TailscaleHostname: "myhost.ts.net",
			},
			want: "https://myhost.ts.net",
		},
		{
			name: "ssl without tailscale hostname",
			in:   Inputs{Host: "example.com", Port: 4020, PreferSSL: true, HTTPSAvailable: true},
			want: "https://example.com",
		},
		{
			name: "no ssl uses host:port",
			in:   Inputs{Host: "example.com", Port: 4020, PreferSSL: false},
			want: "http://example.com:4020",
		},
		{
			name: "no ssl prefers tailscale ip when enabled and preferred",
			in: Inputs{
				Host: "example.com", Port: 4020, PreferSSL: false,
				PreferTailscale: true, IsTailscaleEnabled: true, TailscaleIP: "100.64.0.5",
			},
			want: "http://100.64.0.5:4020",
		},
		{
			name: "https unavailable falls back to preferSSL=no behavior",
			in: Inputs{
				Host: "example.com", Port: 4020, PreferSSL: true, HTTPSAvailable: false,
			},
			want: "http://example.com:4020",
		},
		{
			name: "tailscale ip ignored when not preferred",
			in: Inputs{
				Host: "example.com", Port: 4020, PreferSSL: false,
				IsTailscaleEnabled: true, TailscaleIP: "100.64.0.5", PreferTailscale: false,
			},
			want: "http://example.com:4020",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ConnectionURL(tc.in)
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAPIURL(t *testing.T) {
	in := Inputs{Host: "example.com", Port: 4020}
	got := APIURL(in, "api/health")
	if got != "http://example.com:4020/api/health" {
		t.Fatalf("got %q", got)
	}
}

func TestDisplayNameWithConnectionType(t *testing.T) {
	cases := []struct {
		name string
		in   Inputs
		want string
	}{
		{"ssl wins", Inputs{PreferSSL: true, HTTPSAvailable: true}, "🔒 n"},
		{"public without ssl", Inputs{IsPublic: true}, "🌐 n"},
		{"tailscale without ssl", Inputs{IsTailscaleEnabled: true, TailscaleHostname: "h"}, "🔗 n"},
		{"plain", Inputs{}, "n"},
		{"ssl hides tailscale glyph", Inputs{PreferSSL: true, HTTPSAvailable: true, IsTailscaleEnabled: true, TailscaleHostname: "h"}, "🔒 n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DisplayNameWithConnectionType(tc.in, "n")
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
