// Package sdp parses remote offers and renders local answers for relayed legs.
package sdp

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/pion/sdp/v3"
)

var (
	ErrNoMedia      = errors.New("sdp: offer has no media description")
	ErrNoConnection = errors.New("sdp: offer has no connection address")
)

// Offer is the part of a remote session description the relay acts on.
type Offer struct {
	Origin  sdp.Origin
	Remote  netip.AddrPort
	Formats []string
}

// ParseOffer extracts the forwarding address of the first audio stream
// (or the first stream when no audio is offered).
func ParseOffer(body string) (*Offer, error) {
	session := &sdp.SessionDescription{}
	if err := session.Unmarshal([]byte(body)); err != nil {
		return nil, fmt.Errorf("sdp: parse offer: %w", err)
	}
	if len(session.MediaDescriptions) == 0 {
		return nil, ErrNoMedia
	}

	media := session.MediaDescriptions[0]
	for _, m := range session.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			media = m
			break
		}
	}

	port := media.MediaName.Port.Value
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("sdp: invalid media port %d", port)
	}

	host := ""
	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		host = media.ConnectionInformation.Address.Address
	} else if session.ConnectionInformation != nil && session.ConnectionInformation.Address != nil {
		host = session.ConnectionInformation.Address.Address
	}
	if host == "" {
		return nil, ErrNoConnection
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil, fmt.Errorf("sdp: invalid connection address %q: %w", host, err)
	}

	return &Offer{
		Origin:  session.Origin,
		Remote:  netip.AddrPortFrom(addr.Unmap(), uint16(port)),
		Formats: media.MediaName.Formats,
	}, nil
}

func addressType(address string) string {
	if strings.Contains(address, ":") {
		return "IP6"
	}
	return "IP4"
}
