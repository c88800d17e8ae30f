package storage

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// NormalizeDomain reduces a site reference to the identity leads are keyed by:
// the registrable domain, so "https://WWW.shop.example.co.uk/about" and
// "example.co.uk" are the same lead. Hosts with no registrable domain (IPs,
// localhost) are kept as-is, minus any port.
func NormalizeDomain(site string) (string, error) {
	host, err := hostOf(site)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host, nil
	}
	domain, err := publicsuffix.Domain(host)
	if err != nil {
		return host, nil
	}
	return domain, nil
}

func hostOf(site string) (string, error) {
	s := strings.TrimSpace(site)
	if s == "" {
		return "", fmt.Errorf("empty site")
	}
	// Without a scheme url.Parse puts the host in Path.
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("no host in %q", site)
	}
	return host, nil
}
