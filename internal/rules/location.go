package rules

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RegionResolver maps an IP address to a coarse region code.
type RegionResolver interface {
	Region(ctx context.Context, ip netip.Addr) (string, error)
}

// StaticResolver resolves regions from a fixed CIDR table with a default.
type StaticResolver struct {
	ranges        []staticRange
	defaultRegion string
}

type staticRange struct {
	prefix netip.Prefix
	region string
}

// NewStaticResolver builds a resolver from region ranges. Invalid CIDRs are
// skipped; use ParseRegionRanges to surface them.
func NewStaticResolver(defaultRegion string, ranges []domain.RegionRange) *StaticResolver {
	r, _ := ParseRegionRanges(defaultRegion, ranges)
	return r
}

// ParseRegionRanges builds a resolver and reports every invalid CIDR.
func ParseRegionRanges(defaultRegion string, ranges []domain.RegionRange) (*StaticResolver, error) {
	r := &StaticResolver{defaultRegion: strings.ToUpper(defaultRegion)}
	var errs []error
	for _, rr := range ranges {
		prefix, err := netip.ParsePrefix(rr.CIDR)
		if err != nil {
			errs = append(errs, fmt.Errorf("region range %q: %w", rr.CIDR, err))
			continue
		}
		r.ranges = append(r.ranges, staticRange{prefix: prefix.Masked(), region: strings.ToUpper(rr.Region)})
	}
	// Longest prefix first so the most specific range wins.
	slices.SortStableFunc(r.ranges, func(a, b staticRange) int {
		return b.prefix.Bits() - a.prefix.Bits()
	})
	return r, errors.Join(errs...)
}

// Region returns the region of the most specific matching range, or the default.
func (r *StaticResolver) Region(_ context.Context, ip netip.Addr) (string, error) {
	ip = ip.Unmap()
	for _, rr := range r.ranges {
		if rr.prefix.Contains(ip) {
			return rr.region, nil
		}
	}
	return r.defaultRegion, nil
}

// GeoIPResolver resolves the ISO country code from a MaxMind database.
type GeoIPResolver struct {
	reader *geoip2.Reader
}

// OpenGeoIP opens a GeoIP2 or GeoLite2 country/city database.
func OpenGeoIP(path string) (*GeoIPResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &GeoIPResolver{reader: reader}, nil
}

// Region returns the ISO country code of ip.
func (g *GeoIPResolver) Region(_ context.Context, ip netip.Addr) (string, error) {
	record, err := g.reader.Country(net.IP(ip.Unmap().AsSlice()))
	if err != nil {
		return "", fmt.Errorf("geoip lookup: %w", err)
	}
	return record.Country.IsoCode, nil
}

// Close releases the database.
func (g *GeoIPResolver) Close() error {
	return g.reader.Close()
}

func (e *Evaluator) evalLocation(ctx context.Context, rule *domain.RuleDefinition, fc *domain.FraudContext) (verdict, error) {
	var p domain.LocationParams
	if err := rule.DecodeParams(&p); err != nil {
		return verdict{}, err
	}

	if fc.IPAddress == "" {
		return pass("no ip address"), nil
	}
	ip, err := netip.ParseAddr(fc.IPAddress)
	if err != nil {
		return verdict{}, fmt.Errorf("invalid ip address %q: %w", fc.IPAddress, err)
	}

	if e.reputation != nil {
		v, err := e.reputation.CheckIP(ctx, fc.TenantID, fc.IPAddress)
		if err != nil {
			return verdict{}, err
		}
		switch v {
		case domain.VerdictBlocked:
			return fail(1.0, fmt.Sprintf("ip %s is blocklisted", fc.IPAddress)), nil
		case domain.VerdictAllowed:
			return pass(fmt.Sprintf("ip %s is allowlisted", fc.IPAddress)), nil
		}
	}

	if e.regions == nil {
		return verdict{}, errors.New("region resolver not configured")
	}
	region, err := e.regions.Region(ctx, ip)
	if err != nil {
		return verdict{}, err
	}
	region = strings.ToUpper(region)

	if containsRegion(p.BlockedRegions, region) {
		return fail(1.0, fmt.Sprintf("region %s is blocked", region)), nil
	}
	if len(p.AllowedRegions) > 0 && !containsRegion(p.AllowedRegions, region) {
		return fail(1.0, fmt.Sprintf("region %s is not in the allowed list", displayRegion(region))), nil
	}
	return pass(fmt.Sprintf("region %s allowed", displayRegion(region))), nil
}

func containsRegion(list []string, region string) bool {
	if region == "" {
		return false
	}
	return slices.ContainsFunc(list, func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), region)
	})
}

func displayRegion(region string) string {
	if region == "" {
		return "unknown"
	}
	return region
}
