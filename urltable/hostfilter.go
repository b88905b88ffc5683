package urltable

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// AllowAllHosts is a HostFilter that accepts every locator.
var AllowAllHosts HostFilter = allowAll{}

type allowAll struct{}

func (allowAll) HostAllowed(*url.URL) bool { return true }

// hostAllowlist accepts hosts listed exactly or matching a pattern.
type hostAllowlist struct {
	hosts    map[string]bool
	patterns []*regexp.Regexp
}

// NewHostAllowlist creates a HostFilter from exact hosts and regular
// expressions.
//
// An exact entry matches either the bare host ("example.com") or host and
// port ("example.com:8080"). Patterns are matched against both forms.
// Locators without a host (such as file:///data.csv) are always allowed.
// An allowlist with no entries allows everything.
func NewHostAllowlist(hosts []string, patterns []string) (HostFilter, error) {
	f := &hostAllowlist{hosts: make(map[string]bool, len(hosts))}
	for _, h := range hosts {
		f.hosts[strings.ToLower(h)] = true
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("host pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func (f *hostAllowlist) HostAllowed(u *url.URL) bool {
	if len(f.hosts) == 0 && len(f.patterns) == 0 {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return true
	}
	hostPort := host
	if port := u.Port(); port != "" {
		hostPort = host + ":" + port
	}
	if f.hosts[host] || f.hosts[hostPort] {
		return true
	}
	for _, re := range f.patterns {
		if re.MatchString(hostPort) || re.MatchString(host) {
			return true
		}
	}
	return false
}

// checkHost returns a KindHostNotAllowed error when filter rejects u.
func checkHost(filter HostFilter, u *url.URL) error {
	if filter == nil || filter.HostAllowed(u) {
		return nil
	}
	return &Error{
		Kind: KindHostNotAllowed,
		Op:   "check host",
		Err:  fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Host),
	}
}
