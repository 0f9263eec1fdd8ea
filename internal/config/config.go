package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Options control where and how a request is sent. A zero field is unset and
// falls through to the next layer in Resolve.
type Options struct {
	Host      string // e.g. "192.0.2.1" or "router.example.net"
	Port      int
	Community string
	Family    string // "udp4" or "udp6"

	// Timeouts is the retransmission schedule: one transmission per entry, each
	// waiting that long for a reply before the next.
	Timeouts []time.Duration

	// AbortOnError makes GetAll stop at the first failing chunk.
	AbortOnError bool
}

const (
	DefaultHost      = "localhost"
	DefaultPort      = 161
	DefaultCommunity = "public"
	DefaultFamily    = "udp4"
)

var defaultTimeouts = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
	2500 * time.Millisecond,
	5000 * time.Millisecond,
}

// Environment variables read by FromEnv.
const (
	EnvHost      = "SNMP_HOST"
	EnvPort      = "SNMP_PORT"
	EnvCommunity = "SNMP_COMMUNITY"
	EnvFamily    = "SNMP_FAMILY"
	EnvTimeouts  = "SNMP_TIMEOUTS"
)

var ErrInvalidOptions = errors.New("invalid options")

// Defaults returns a fresh copy of the built in defaults.
func Defaults() Options {
	return Options{
		Host:      DefaultHost,
		Port:      DefaultPort,
		Community: DefaultCommunity,
		Family:    DefaultFamily,
		Timeouts:  slices.Clone(defaultTimeouts),
	}
}

// Resolve merges the layers field by field. explicit wins over session, which
// wins over global. AbortOnError is set if any layer sets it.
func Resolve(explicit, session, global Options) Options {
	return Options{
		Host:         first(explicit.Host, session.Host, global.Host),
		Port:         first(explicit.Port, session.Port, global.Port),
		Community:    first(explicit.Community, session.Community, global.Community),
		Family:       first(explicit.Family, session.Family, global.Family),
		Timeouts:     slices.Clone(firstSlice(explicit.Timeouts, session.Timeouts, global.Timeouts)),
		AbortOnError: explicit.AbortOnError || session.AbortOnError || global.AbortOnError,
	}
}

func first[T comparable](vals ...T) T {
	var zero T
	for _, v := range vals {
		if v != zero {
			return v
		}
	}
	return zero
}

func firstSlice[T any](vals ...[]T) []T {
	for _, v := range vals {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}

// Validate checks that the options are complete enough to send a request.
func (o Options) Validate() error {
	switch {
	case o.Host == "":
		return fmt.Errorf("%w: host is required", ErrInvalidOptions)
	case o.Port <= 0 || o.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidOptions, o.Port)
	case o.Family != "udp4" && o.Family != "udp6":
		return fmt.Errorf("%w: family %q must be udp4 or udp6", ErrInvalidOptions, o.Family)
	case len(o.Timeouts) == 0:
		return fmt.Errorf("%w: empty timeout schedule", ErrInvalidOptions)
	}
	for i, d := range o.Timeouts {
		if d <= 0 {
			return fmt.Errorf("%w: timeout %d is %s", ErrInvalidOptions, i, d)
		}
	}
	return nil
}

// Address returns the host:port to send to.
func (o Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// FromEnv reads options from the environment through getenv, normally
// os.Getenv. Unset variables leave their field zero.
func FromEnv(getenv func(string) string) (Options, error) {
	var o Options
	o.Host = getenv(EnvHost)
	o.Community = getenv(EnvCommunity)
	o.Family = getenv(EnvFamily)

	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Options{}, fmt.Errorf("%s: %w", EnvPort, err)
		}
		o.Port = port
	}
	if v := getenv(EnvTimeouts); v != "" {
		timeouts, err := ParseTimeouts(v)
		if err != nil {
			return Options{}, fmt.Errorf("%s: %w", EnvTimeouts, err)
		}
		o.Timeouts = timeouts
	}
	return o, nil
}

// ParseTimeouts parses a comma separated list of millisecond delays, e.g.
// "250,500,1000".
func ParseTimeouts(s string) ([]time.Duration, error) {
	var out []time.Duration
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		ms, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("%w: timeout %q", ErrInvalidOptions, field)
		}
		if ms <= 0 {
			return nil, fmt.Errorf("%w: timeout %dms must be positive", ErrInvalidOptions, ms)
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty timeout schedule", ErrInvalidOptions)
	}
	return out, nil
}

// Milliseconds converts a schedule to the integer form used on the command line.
func Milliseconds(timeouts []time.Duration) []int {
	out := make([]int, len(timeouts))
	for i, d := range timeouts {
		out[i] = int(d / time.Millisecond)
	}
	return out
}
