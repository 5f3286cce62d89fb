package goepp

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// CommandKind identifies an EPP command.
type CommandKind uint8

const (
	// CommandHello requests a fresh greeting (RFC5730 Section 2.3).
	CommandHello CommandKind = iota + 1

	// CommandLogin establishes a session (RFC5730 Section 2.9.1.1).
	CommandLogin

	// CommandLogout ends a session (RFC5730 Section 2.9.1.2).
	CommandLogout

	// CommandHostDelete deletes a host object (RFC5732 Section 3.2.2).
	CommandHostDelete
)

// String returns a string representation of the command kind.
func (k CommandKind) String() string {
	switch k {
	case CommandHello:
		return "hello"
	case CommandLogin:
		return "login"
	case CommandLogout:
		return "logout"
	case CommandHostDelete:
		return "host:delete"
	default:
		return "unknown"
	}
}

// Command is implemented by every EPP command the package can build.
type Command interface {
	// Kind returns the command kind.
	Kind() CommandKind

	// Validate checks the command parameters without any I/O.
	Validate() error
}

// Hello is the <hello/> request.
type Hello struct{}

// Kind implements Command.
func (Hello) Kind() CommandKind { return CommandHello }

// Validate implements Command.
func (Hello) Validate() error { return nil }

// Login carries the session credentials and negotiated services.
type Login struct {
	ClientID      string
	Password      string
	Version       string
	Lang          string
	ObjectURIs    []string
	ExtensionURIs []string
}

// Kind implements Command.
func (*Login) Kind() CommandKind { return CommandLogin }

// Validate implements Command.
func (l *Login) Validate() error {
	if l.ClientID == "" {
		return fmt.Errorf("%w: login: client identifier is required", ErrValidation)
	}
	if l.Password == "" {
		return fmt.Errorf("%w: login: password is required", ErrValidation)
	}
	if len(l.ObjectURIs) == 0 {
		return fmt.Errorf("%w: login: at least one object URI is required", ErrValidation)
	}
	return nil
}

// Logout is the <logout/> command.
type Logout struct{}

// Kind implements Command.
func (Logout) Kind() CommandKind { return CommandLogout }

// Validate implements Command.
func (Logout) Validate() error { return nil }

// HostDelete deletes the named host object.
type HostDelete struct {
	Name string
}

// Kind implements Command.
func (*HostDelete) Kind() CommandKind { return CommandHostDelete }

// Validate implements Command.
func (d *HostDelete) Validate() error {
	if err := ValidateHostName(d.Name); err != nil {
		return fmt.Errorf("host:delete: %w", err)
	}
	return nil
}

// ValidateHostName checks that name is a syntactically valid fully-qualified
// host name: letters, digits and hyphens, at least two labels, labels of at
// most 63 octets and at most MaxHostNameLength octets overall.
func ValidateHostName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: host name is required", ErrValidation)
	}
	if strings.HasSuffix(name, ".") {
		return fmt.Errorf("%w: host name %q must not end with a dot", ErrValidation, name)
	}
	if len(name) > MaxHostNameLength {
		return fmt.Errorf("%w: host name exceeds %d octets", ErrValidation, MaxHostNameLength)
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return fmt.Errorf("%w: host name %q is not a domain name", ErrValidation, name)
	}
	if dns.CountLabel(name) < 2 {
		return fmt.Errorf("%w: host name %q is not fully qualified", ErrValidation, name)
	}

	for _, label := range dns.SplitDomainName(name) {
		if !isLDHLabel(label) {
			return fmt.Errorf("%w: host name label %q is invalid", ErrValidation, label)
		}
	}

	return nil
}

// isLDHLabel reports whether label follows the letter-digit-hyphen rule.
func isLDHLabel(label string) bool {
	if label == "" || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

// Wire structures for outgoing requests. Prefixed element names keep the
// host mapping in its conventional "host:" prefix.

type eppRequest struct {
	XMLName xml.Name        `xml:"urn:ietf:params:xml:ns:epp-1.0 epp"`
	Hello   *struct{}       `xml:"hello,omitempty"`
	Command *commandElement `xml:"command,omitempty"`
}

type commandElement struct {
	Login  *loginElement  `xml:"login,omitempty"`
	Logout *struct{}      `xml:"logout,omitempty"`
	Delete *deleteElement `xml:"delete,omitempty"`
	ClTRID string         `xml:"clTRID,omitempty"`
}

type loginElement struct {
	ClientID string        `xml:"clID"`
	Password string        `xml:"pw"`
	Options  loginOptions  `xml:"options"`
	Services loginServices `xml:"svcs"`
}

type loginOptions struct {
	Version string `xml:"version"`
	Lang    string `xml:"lang"`
}

type loginServices struct {
	ObjectURIs []string          `xml:"objURI"`
	Extension  *serviceExtension `xml:"svcExtension,omitempty"`
}

type serviceExtension struct {
	URIs []string `xml:"extURI"`
}

type deleteElement struct {
	Host *hostDeleteElement `xml:"host:delete,omitempty"`
}

type hostDeleteElement struct {
	XMLNSHost string `xml:"xmlns:host,attr"`
	Name      string `xml:"host:name"`
}

// BuildCommand builds the XML document for cmd. It is a pure function of its
// input: the command is validated first and no I/O is performed.
// clTRID is the client transaction identifier; it is ignored for Hello.
func BuildCommand(cmd Command, clTRID string) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: command is nil", ErrValidation)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	req := &eppRequest{}

	switch c := cmd.(type) {
	case Hello, *Hello:
		req.Hello = &struct{}{}
	case *Login:
		version := c.Version
		if version == "" {
			version = ProtocolVersion
		}
		lang := c.Lang
		if lang == "" {
			lang = DefaultLang
		}
		login := &loginElement{
			ClientID: c.ClientID,
			Password: c.Password,
			Options:  loginOptions{Version: version, Lang: lang},
			Services: loginServices{ObjectURIs: c.ObjectURIs},
		}
		if len(c.ExtensionURIs) > 0 {
			login.Services.Extension = &serviceExtension{URIs: c.ExtensionURIs}
		}
		req.Command = &commandElement{Login: login, ClTRID: clTRID}
	case Logout, *Logout:
		req.Command = &commandElement{Logout: &struct{}{}, ClTRID: clTRID}
	case *HostDelete:
		req.Command = &commandElement{
			Delete: &deleteElement{
				Host: &hostDeleteElement{XMLNSHost: NamespaceHost, Name: c.Name},
			},
			ClTRID: clTRID,
		}
	default:
		return nil, fmt.Errorf("%w: unsupported command %s", ErrValidation, cmd.Kind())
	}

	body, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", cmd.Kind(), err)
	}

	return append([]byte(xml.Header), body...), nil
}

// Wire structures for incoming requests, used by the server side.

type eppRequestIn struct {
	XMLName xml.Name       `xml:"urn:ietf:params:xml:ns:epp-1.0 epp"`
	Hello   *struct{}      `xml:"hello"`
	Command *commandElemIn `xml:"command"`
}

type commandElemIn struct {
	Login *struct {
		ClientID string `xml:"clID"`
		Password string `xml:"pw"`
		Options  struct {
			Version string `xml:"version"`
			Lang    string `xml:"lang"`
		} `xml:"options"`
		Services struct {
			ObjectURIs []string `xml:"objURI"`
			Extension  struct {
				URIs []string `xml:"extURI"`
			} `xml:"svcExtension"`
		} `xml:"svcs"`
	} `xml:"login"`
	Logout *struct{} `xml:"logout"`
	Delete *struct {
		Host *struct {
			Name string `xml:"name"`
		} `xml:"urn:ietf:params:xml:ns:host-1.0 delete"`
	} `xml:"delete"`
	ClTRID string `xml:"clTRID"`
}

// ParseCommand decodes a client request document. It returns the command and
// its client transaction identifier. Documents that are not EPP requests fail
// with ErrParse; well-formed requests for commands this package does not model
// fail with ErrUnknownCommand.
func ParseCommand(payload []byte) (Command, string, error) {
	req := &eppRequestIn{}
	if err := xml.Unmarshal(payload, req); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrParse, err)
	}

	if req.Hello != nil {
		return Hello{}, "", nil
	}
	if req.Command == nil {
		return nil, "", fmt.Errorf("%w: no <hello> or <command> element", ErrParse)
	}

	c := req.Command
	switch {
	case c.Login != nil:
		return &Login{
			ClientID:      c.Login.ClientID,
			Password:      c.Login.Password,
			Version:       c.Login.Options.Version,
			Lang:          c.Login.Options.Lang,
			ObjectURIs:    c.Login.Services.ObjectURIs,
			ExtensionURIs: c.Login.Services.Extension.URIs,
		}, c.ClTRID, nil
	case c.Logout != nil:
		return Logout{}, c.ClTRID, nil
	case c.Delete != nil && c.Delete.Host != nil:
		return &HostDelete{Name: c.Delete.Host.Name}, c.ClTRID, nil
	default:
		return nil, c.ClTRID, ErrUnknownCommand
	}
}
