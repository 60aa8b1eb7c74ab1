// Package address resolves the four ways an NT4 server can be located:
// localhost, a team-number-derived roboRIO address, mDNS, and a literal
// host supplied by the caller.
package address

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"nt4client/internal/nt4/nt4err"
)

// Mode selects how Resolve locates the server.
type Mode int

const (
	// ModeLocalhost targets 127.0.0.1, for simulator/desktop testing.
	ModeLocalhost Mode = iota
	// ModeTeamNumber derives the roboRIO's static USB/radio address from
	// an FRC team number.
	ModeTeamNumber
	// ModeMDNS resolves roboRIO-<team>-FRC.local via multicast DNS.
	ModeMDNS
	// ModeCustom uses a caller-supplied host verbatim.
	ModeCustom
)

var (
	// ErrInvalidTeamNumber is returned for a team number outside [1, 25599].
	ErrInvalidTeamNumber = errors.New("address: team number must be between 1 and 25599")
	// ErrCustomHostRequired is returned when ModeCustom carries no host.
	ErrCustomHostRequired = errors.New("address: custom mode requires a non-empty host")
	// ErrMDNSTimeout is returned when an mDNS query yields no answer.
	ErrMDNSTimeout = errors.New("address: mdns query timed out")
)

// Config describes how to locate a server.
type Config struct {
	Mode       Mode
	TeamNumber int
	CustomHost string
	MDNSTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MDNSTimeout == 0 {
		c.MDNSTimeout = 2 * time.Second
	}
	return c
}

// Resolve returns the host (no port) to dial for cfg. Every error it
// returns wraps nt4err.ErrAddressResolution.
func Resolve(ctx context.Context, cfg Config) (host string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", nt4err.ErrAddressResolution, err)
		}
	}()
	cfg = cfg.withDefaults()

	switch cfg.Mode {
	case ModeLocalhost:
		return "127.0.0.1", nil
	case ModeTeamNumber:
		return teamNumberHost(cfg.TeamNumber)
	case ModeMDNS:
		return resolveMDNS(ctx, cfg.TeamNumber, cfg.MDNSTimeout)
	case ModeCustom:
		if cfg.CustomHost == "" {
			return "", ErrCustomHostRequired
		}
		return cfg.CustomHost, nil
	default:
		return "", fmt.Errorf("address: unknown mode %d", cfg.Mode)
	}
}

// teamNumberHost implements the roboRIO static-IP scheme:
// 10.<team/100>.<team%100>.2. Team 100 -> 10.1.0.2; team 1 -> 10.0.1.2;
// team 25599 -> 10.255.99.2.
func teamNumberHost(team int) (string, error) {
	if team < 1 || team > 25599 {
		return "", ErrInvalidTeamNumber
	}
	return fmt.Sprintf("10.%d.%d.2", team/100, team%100), nil
}

// mdnsHostname is the name a roboRIO advertises itself under.
func mdnsHostname(team int) string {
	return fmt.Sprintf("roboRIO-%d-FRC.local.", team)
}

// resolveMDNS performs a best-effort A-record lookup for the roboRIO's
// mDNS hostname using the standard resolver. This is deliberately
// minimal: a full multicast responder/querier (as the original desktop
// client used) needs a dedicated mDNS library, and none in the reference
// stack exposes a simple single-host query API confident enough to wire
// here (see DESIGN.md) — net.Resolver's unicast-fallback lookup covers
// the common case of an mDNS-aware stub resolver on the host OS.
func resolveMDNS(ctx context.Context, team int, timeout time.Duration) (string, error) {
	if team < 1 || team > 25599 {
		return "", ErrInvalidTeamNumber
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver := net.DefaultResolver
	ips, err := resolver.LookupHost(ctx, mdnsHostname(team))
	if err != nil || len(ips) == 0 {
		return "", fmt.Errorf("%w: %v", ErrMDNSTimeout, err)
	}
	return ips[0], nil
}
