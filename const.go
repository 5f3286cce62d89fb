package goepp

import "time"

// XML namespaces as defined in RFC5730 and RFC5732.
const (
	// NamespaceEPP is the EPP base namespace.
	NamespaceEPP = "urn:ietf:params:xml:ns:epp-1.0"

	// NamespaceHost is the host object mapping namespace.
	NamespaceHost = "urn:ietf:params:xml:ns:host-1.0"
)

// Protocol defaults used in the login <options> element.
const (
	// ProtocolVersion is the only EPP version defined by RFC5730.
	ProtocolVersion = "1.0"

	// DefaultLang is the response language requested at login.
	DefaultLang = "en"
)

// Result codes as defined in RFC5730 Section 3.
const (
	// ResultSuccess indicates the command completed successfully.
	ResultSuccess = 1000

	// ResultSuccessPending indicates the command was accepted and an action is pending.
	ResultSuccessPending = 1001

	// ResultSuccessEnding indicates the session was ended after logout.
	ResultSuccessEnding = 1500

	// ResultUnknownCommand indicates the command element was not recognised.
	ResultUnknownCommand = 2000

	// ResultSyntaxError indicates a command syntax error.
	ResultSyntaxError = 2001

	// ResultCommandUseError indicates a command was issued in the wrong state.
	ResultCommandUseError = 2002

	// ResultParameterMissing indicates a required parameter was missing.
	ResultParameterMissing = 2003

	// ResultParameterRangeError indicates a parameter value was out of range.
	ResultParameterRangeError = 2004

	// ResultParameterSyntaxError indicates a parameter value had invalid syntax.
	ResultParameterSyntaxError = 2005

	// ResultAuthenticationError indicates the login credentials were rejected.
	ResultAuthenticationError = 2200

	// ResultAuthorizationError indicates the client may not act on the object.
	ResultAuthorizationError = 2201

	// ResultObjectDoesNotExist indicates the target object was not found.
	ResultObjectDoesNotExist = 2303

	// ResultObjectStatusProhibits indicates object status prohibits the operation.
	ResultObjectStatusProhibits = 2304

	// ResultObjectAssociationProhibits indicates associations prohibit the operation.
	ResultObjectAssociationProhibits = 2305

	// ResultCommandFailed indicates an internal server error.
	ResultCommandFailed = 2400
)

// FrameHeaderLength is the size of the EPP frame length prefix in bytes (RFC5734 Section 4).
const FrameHeaderLength = 4

// DefaultPort is the IANA-assigned EPP port as defined in RFC5734.
const DefaultPort = 700

// DefaultTimeout bounds connect and every single read or write.
const DefaultTimeout = 30 * time.Second

// DefaultMaxFrameLength is the default maximum accepted frame length (4MB).
// This prevents memory exhaustion from a misbehaving peer.
const DefaultMaxFrameLength = 4 * 1024 * 1024

// MaxHostNameLength is the maximum length of a fully-qualified host name in octets.
const MaxHostNameLength = 253
