// If you are AI: This file resolves the open question recorded in
// DESIGN.md over SRT ingest naming: OvenMediaEngine-style SRT
// publishers present a streamid of the form "<mode>/<app>/<name>" at
// handshake time (mode distinguishing publish vs play on servers that
// serve both directions from one port). This repo's SRT ingest only
// ever accepts publishers, so the mode must be exactly "input" — a
// bare "<app>/<name>" is rejected rather than silently accepted as a
// legacy shorthand, keeping naming unambiguous across every protocol.
package srt

import (
	"strings"

	"originflux/internal/errs"
)

// ParseStreamID extracts (app, name) from a streamid of the form
// "<mode>/<app>/<name>", requiring it match wantMode exactly ("input"
// for ingest). Any other shape is a ProtocolError.
func ParseStreamID(raw, wantMode string) (app, name string, err error) {
	parts := strings.SplitN(raw, "/", 3)
	if len(parts) != 3 || parts[0] != wantMode {
		return "", "", errs.New(errs.KindProtocol, "srt: streamid must be \""+wantMode+"/<app>/<name>\", got "+raw)
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", errs.New(errs.KindProtocol, "srt: streamid app/name must not be empty")
	}
	return parts[1], parts[2], nil
}

// ParseInputStreamID requires the "input/<app>/<name>" shape used by
// SRT publishers (ingest).
func ParseInputStreamID(raw string) (app, name string, err error) {
	return ParseStreamID(raw, "input")
}

// ParsePlayStreamID requires the "<app>/<name>" shape used by SRT
// players (egress); no mode prefix is taken.
func ParsePlayStreamID(raw string) (app, name string, err error) {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errs.New(errs.KindProtocol, "srt: streamid must be \"<app>/<name>\", got "+raw)
	}
	return parts[0], parts[1], nil
}
