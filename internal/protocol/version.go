package protocol

import (
	"fmt"
	"slices"
)

var supportedVersions = []Version{V2c}

// checkVersion rejects any message version this package cannot speak.
func checkVersion(v Version) error {
	if !slices.Contains(supportedVersions, v) {
		return fmt.Errorf("unsupported version: %d (only SNMPv2c is supported)", v)
	}
	return nil
}

// CheckVersion reports whether a decoded packet carries a supported version.
func (p *Packet) CheckVersion() error {
	return checkVersion(p.Version)
}
