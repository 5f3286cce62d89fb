package goepp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"slices"
	"time"
)

// Greeting is the server greeting as defined in RFC5730 Section 2.4.
type Greeting struct {
	ServerID      string
	ServerDate    time.Time
	Versions      []string
	Langs         []string
	ObjectURIs    []string
	ExtensionURIs []string
}

// DefaultGreeting returns a greeting advertising EPP 1.0 in English with the host mapping.
func DefaultGreeting(serverID string) *Greeting {
	return &Greeting{
		ServerID:   serverID,
		Versions:   []string{ProtocolVersion},
		Langs:      []string{DefaultLang},
		ObjectURIs: []string{NamespaceHost},
	}
}

// Supports returns true if the server advertises uri as an object or extension URI.
func (g *Greeting) Supports(uri string) bool {
	return slices.Contains(g.ObjectURIs, uri) || slices.Contains(g.ExtensionURIs, uri)
}

type greetingDoc struct {
	XMLName  xml.Name         `xml:"urn:ietf:params:xml:ns:epp-1.0 epp"`
	Greeting *greetingElement `xml:"greeting"`
}

type greetingElement struct {
	ServerID   string      `xml:"svID"`
	ServerDate string      `xml:"svDate"`
	Menu       serviceMenu `xml:"svcMenu"`
	DCP        *rawElement `xml:"dcp,omitempty"`
}

type serviceMenu struct {
	Versions   []string          `xml:"version"`
	Langs      []string          `xml:"lang"`
	ObjectURIs []string          `xml:"objURI"`
	Extension  *serviceExtension `xml:"svcExtension,omitempty"`
}

// rawElement keeps an element's content verbatim.
type rawElement struct {
	Inner string `xml:",innerxml"`
}

// defaultDCP is a minimal data collection policy: access to all data,
// with the statement required by the schema.
const defaultDCP = `<access><all/></access><statement><purpose><admin/><prov/></purpose>` +
	`<recipient><ours/></recipient><retention><stated/></retention></statement>`

// ParseGreeting decodes a greeting document. It fails with ErrParse when the
// payload is empty, is not well-formed XML or carries no <greeting> element.
func ParseGreeting(payload []byte) (*Greeting, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("%w: empty greeting", ErrParse)
	}

	doc := &greetingDoc{}
	if err := xml.Unmarshal(payload, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if doc.Greeting == nil {
		return nil, fmt.Errorf("%w: no <greeting> element", ErrParse)
	}

	g := &Greeting{
		ServerID:   doc.Greeting.ServerID,
		Versions:   doc.Greeting.Menu.Versions,
		Langs:      doc.Greeting.Menu.Langs,
		ObjectURIs: doc.Greeting.Menu.ObjectURIs,
	}
	if doc.Greeting.Menu.Extension != nil {
		g.ExtensionURIs = doc.Greeting.Menu.Extension.URIs
	}
	// svDate is informational; an unparseable value leaves ServerDate zero.
	if t, err := time.Parse(time.RFC3339, doc.Greeting.ServerDate); err == nil {
		g.ServerDate = t
	}

	return g, nil
}

// MarshalBinary encodes the greeting as an EPP document.
// A zero ServerDate is replaced with the current time.
func (g *Greeting) MarshalBinary() ([]byte, error) {
	date := g.ServerDate
	if date.IsZero() {
		date = time.Now()
	}

	el := &greetingElement{
		ServerID:   g.ServerID,
		ServerDate: date.UTC().Format(time.RFC3339),
		Menu: serviceMenu{
			Versions:   g.Versions,
			Langs:      g.Langs,
			ObjectURIs: g.ObjectURIs,
		},
		DCP: &rawElement{Inner: defaultDCP},
	}
	if len(g.ExtensionURIs) > 0 {
		el.Menu.Extension = &serviceExtension{URIs: g.ExtensionURIs}
	}

	body, err := xml.Marshal(&greetingDoc{Greeting: el})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal greeting: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
