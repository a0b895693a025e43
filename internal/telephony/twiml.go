package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs needed to answer the inbound voice webhook are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlDial struct {
	XMLName xml.Name  `xml:"Dial"`
	Sip     *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

// RenderInboundTwiML dials the agent's SIP endpoint when the hub accepted the
// call, and rejects it as busy otherwise.
func RenderInboundTwiML(d Disposition, sipDomain string) (string, error) {
	var r twimlResponse

	switch {
	case !d.Accepted || d.AgentID == "":
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case strings.TrimSpace(sipDomain) == "":
		return "", errors.New("telephony: sip domain required to connect agent")
	default:
		r.Verbs = append(r.Verbs, twimlDial{Sip: &twimlSip{URI: "sip:" + d.AgentID + "@" + sipDomain}})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
