package sdp

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"
)

// Codec is one entry of the advertised payload list.
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Channels    uint16
	Fmtp        string
}

// AdvertisedCodecs is offered in every answer, in this order.
var AdvertisedCodecs = []Codec{
	{PayloadType: 106, Name: "opus", ClockRate: 48000, Channels: 2, Fmtp: "sprop-maxcapturerate=16000; minptime=20; useinbandfec=1"},
	{PayloadType: 9, Name: "G722", ClockRate: 8000},
	{PayloadType: 0, Name: "PCMU", ClockRate: 8000},
	{PayloadType: 8, Name: "PCMA", ClockRate: 8000},
	{PayloadType: 3, Name: "GSM", ClockRate: 8000},
	{PayloadType: 98, Name: "telephone-event", ClockRate: 48000, Fmtp: "0-16"},
	{PayloadType: 101, Name: "telephone-event", ClockRate: 8000, Fmtp: "0-16"},
}

// AnswerConfig describes the local side of a leg.
type AnswerConfig struct {
	// Origin is taken from the remote offer; only the unicast address is
	// replaced with Address.
	Origin  sdp.Origin
	Address string
	Port    int
}

// BuildAnswer renders the answer for a leg relayed on cfg.Port.
func BuildAnswer(cfg AnswerConfig) (string, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return "", fmt.Errorf("sdp: invalid local port %d", cfg.Port)
	}
	if cfg.Address == "" {
		return "", fmt.Errorf("sdp: missing local address")
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:  "audio",
			Port:   sdp.RangedPort{Value: cfg.Port},
			Protos: []string{"RTP", "AVP"},
		},
	}
	for _, c := range AdvertisedCodecs {
		media = media.WithCodec(c.PayloadType, c.Name, c.ClockRate, c.Channels, c.Fmtp)
	}
	media = media.
		WithPropertyAttribute("sendrecv").
		WithValueAttribute("rtcp", strconv.Itoa(cfg.Port)).
		WithPropertyAttribute("rtcp-mux")

	origin := cfg.Origin
	origin.UnicastAddress = cfg.Address
	if origin.NetworkType == "" {
		origin.NetworkType = "IN"
	}
	if origin.AddressType == "" {
		origin.AddressType = addressType(cfg.Address)
	}
	if origin.Username == "" {
		origin.Username = "-"
	}

	session := &sdp.SessionDescription{
		Origin:      origin,
		SessionName: sdp.SessionName(origin.Username),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(cfg.Address),
			Address: &sdp.Address{
				Address: cfg.Address,
			},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{
				Timing: sdp.Timing{
					StartTime: 0,
					StopTime:  0,
				},
			},
		},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}

	body, err := session.Marshal()
	if err != nil {
		return "", fmt.Errorf("sdp: marshal answer: %w", err)
	}
	return string(body), nil
}
