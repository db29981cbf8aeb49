// Package gateway discovers the default gateway address from the host routing table.
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"runtime"
	"strings"

	"github.com/doridoridoriand/netmon/internal/runner"
)

var (
	// ErrUnsupportedPlatform is returned when no routing query is known for the platform.
	ErrUnsupportedPlatform = errors.New("gateway discovery not supported on this platform")
	// ErrNoGateway is returned when the routing output has no default route.
	ErrNoGateway = errors.New("no default gateway found")
)

// Platform selects the routing-table query and its output format.
type Platform string

const (
	Linux       Platform = "linux"
	Darwin      Platform = "darwin"
	FreeBSD     Platform = "freebsd"
	Unsupported Platform = "unsupported"
)

const defaultRoute = "0.0.0.0"

// PlatformFromGOOS maps a runtime.GOOS value to a Platform.
func PlatformFromGOOS(goos string) Platform {
	switch goos {
	case "linux", "android":
		return Linux
	case "darwin", "ios":
		return Darwin
	case "freebsd", "openbsd", "netbsd", "dragonfly":
		return FreeBSD
	default:
		return Unsupported
	}
}

// Current returns the platform of the running process.
func Current() Platform {
	return PlatformFromGOOS(runtime.GOOS)
}

// Strategy knows how to query and parse one routing-table format.
type Strategy interface {
	Command() (string, []string)
	Parse(output string) (string, error)
}

// StrategyFor returns the strategy for p.
func StrategyFor(p Platform) (Strategy, error) {
	switch p {
	case Linux:
		return tableStrategy{}, nil
	case Darwin, FreeBSD:
		return labeledStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, p)
	}
}

// Resolve runs the routing query for p through r and returns the default gateway address.
func Resolve(ctx context.Context, p Platform, r runner.Runner) (string, error) {
	strategy, err := StrategyFor(p)
	if err != nil {
		return "", err
	}
	command, args := strategy.Command()
	done, err := r.Run(ctx, command, args)
	if err != nil {
		return "", fmt.Errorf("routing query: %w", err)
	}

	var completion runner.Completion
	select {
	case completion = <-done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if !completion.Valid {
		return "", fmt.Errorf("routing query failed: %s", strings.TrimSpace(completion.Output))
	}
	return strategy.Parse(completion.Output)
}

// labeledStrategy reads `route -n get default`, which prints "gateway: <addr>".
type labeledStrategy struct{}

func (labeledStrategy) Command() (string, []string) {
	return "route", []string{"-n", "get", "default"}
}

func (labeledStrategy) Parse(output string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(strings.ToLower(line), "gateway:") {
			continue
		}
		return validAddress(strings.TrimSpace(line[len("gateway:"):]))
	}
	return "", ErrNoGateway
}

// tableStrategy reads `netstat -rn`, locating the Destination and Gateway columns from
// the header row.
type tableStrategy struct{}

func (tableStrategy) Command() (string, []string) {
	return "netstat", []string{"-rn"}
}

func (tableStrategy) Parse(output string) (string, error) {
	destCol, gwCol := -1, -1
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if destCol < 0 {
			for i, f := range fields {
				switch f {
				case "Destination":
					destCol = i
				case "Gateway":
					gwCol = i
				}
			}
			if destCol < 0 || gwCol < 0 {
				destCol, gwCol = -1, -1
			}
			continue
		}
		if len(fields) <= destCol || len(fields) <= gwCol {
			continue
		}
		if dest := fields[destCol]; dest == defaultRoute || dest == "default" {
			return validAddress(fields[gwCol])
		}
	}
	return "", ErrNoGateway
}

func validAddress(value string) (string, error) {
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return "", fmt.Errorf("%w: unparsable gateway %q", ErrNoGateway, value)
	}
	if addr.IsUnspecified() {
		return "", fmt.Errorf("%w: unspecified gateway %q", ErrNoGateway, value)
	}
	return addr.String(), nil
}
