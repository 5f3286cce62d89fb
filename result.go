package goepp

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// ResultBand classifies a result code as defined in RFC5730 Section 3.
type ResultBand uint8

const (
	// BandUnknown indicates a code outside every recognised band.
	BandUnknown ResultBand = iota

	// BandOK covers 1000 and 1001: the command succeeded, with or without a pending action.
	BandOK

	// BandEnding covers 1500: the session ended after logout.
	BandEnding

	// BandFailed covers 2000-2499: syntax, semantic, authorization or business failures.
	BandFailed
)

// String returns a string representation of the band.
func (b ResultBand) String() string {
	switch b {
	case BandOK:
		return "OK"
	case BandEnding:
		return "ENDING"
	case BandFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ClassifyCode returns the band for a numeric result code.
func ClassifyCode(code int) ResultBand {
	switch {
	case code == ResultSuccess || code == ResultSuccessPending:
		return BandOK
	case code == ResultSuccessEnding:
		return BandEnding
	case code >= 2000 && code <= 2499:
		return BandFailed
	default:
		return BandUnknown
	}
}

// ResultRecord is the interpreted outcome of one exchange.
type ResultRecord struct {
	// Code is the 4-digit result code as sent by the server.
	Code string

	// Message is the human-readable <msg> text.
	Message string

	// Lang is the language of Message, if declared.
	Lang string

	// Reason is the extended error reason from <extValue>, if any.
	Reason string

	// ClTRID is the client transaction identifier echoed by the server.
	ClTRID string

	// SvTRID is the server transaction identifier.
	SvTRID string
}

// CodeValue returns the numeric result code.
func (r *ResultRecord) CodeValue() int {
	code, _ := strconv.Atoi(r.Code)
	return code
}

// Band returns the classification of the result code.
func (r *ResultRecord) Band() ResultBand {
	return ClassifyCode(r.CodeValue())
}

// IsSuccess returns true for codes 1000 and 1001.
func (r *ResultRecord) IsSuccess() bool {
	return r.Band() == BandOK
}

// IsEnding returns true for code 1500.
func (r *ResultRecord) IsEnding() bool {
	return r.Band() == BandEnding
}

// IsFailure returns true for codes 2000-2499.
func (r *ResultRecord) IsFailure() bool {
	return r.Band() == BandFailed
}

// String formats the record as "code - message (reason)".
func (r *ResultRecord) String() string {
	if r.Reason != "" {
		return fmt.Sprintf("%s - %s (%s)", r.Code, r.Message, r.Reason)
	}
	return fmt.Sprintf("%s - %s", r.Code, r.Message)
}

type responseDoc struct {
	XMLName  xml.Name         `xml:"urn:ietf:params:xml:ns:epp-1.0 epp"`
	Response *responseElement `xml:"response"`
}

type responseElement struct {
	Results []resultElement `xml:"result"`
	TrID    trIDElement     `xml:"trID"`
}

type resultElement struct {
	Code      string            `xml:"code,attr"`
	Msg       messageElement    `xml:"msg"`
	ExtValues []extValueElement `xml:"extValue"`
}

type messageElement struct {
	Lang string `xml:"lang,attr,omitempty"`
	Text string `xml:",chardata"`
}

type extValueElement struct {
	Value  rawElement     `xml:"value"`
	Reason messageElement `xml:"reason"`
}

type trIDElement struct {
	ClTRID string `xml:"clTRID,omitempty"`
	SvTRID string `xml:"svTRID"`
}

// Interpret decodes a response document into a ResultRecord. The first
// <result> element is authoritative. It fails with ErrParse when the payload
// is not an EPP response, the result code is missing or malformed, or the
// code lies outside the OK, ending and failed bands.
func Interpret(payload []byte) (*ResultRecord, error) {
	doc := &responseDoc{}
	if err := xml.Unmarshal(payload, doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if doc.Response == nil {
		return nil, fmt.Errorf("%w: no <response> element", ErrParse)
	}
	if len(doc.Response.Results) == 0 {
		return nil, fmt.Errorf("%w: no <result> element", ErrParse)
	}

	first := doc.Response.Results[0]
	code := strings.TrimSpace(first.Code)
	if !isResultCode(code) {
		return nil, fmt.Errorf("%w: malformed result code %q", ErrParse, code)
	}

	rec := &ResultRecord{
		Code:    code,
		Message: strings.TrimSpace(first.Msg.Text),
		Lang:    first.Msg.Lang,
		ClTRID:  strings.TrimSpace(doc.Response.TrID.ClTRID),
		SvTRID:  strings.TrimSpace(doc.Response.TrID.SvTRID),
	}

	var reasons []string
	for _, ext := range first.ExtValues {
		if reason := strings.TrimSpace(ext.Reason.Text); reason != "" {
			reasons = append(reasons, reason)
		}
	}
	rec.Reason = strings.Join(reasons, "; ")

	if rec.Band() == BandUnknown {
		return nil, fmt.Errorf("%w: result code %s outside known bands", ErrParse, code)
	}

	return rec, nil
}

// isResultCode reports whether s is exactly four decimal digits.
func isResultCode(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Response is a server-side result to be encoded into a response document.
type Response struct {
	// Code is the result code.
	Code int

	// Message is the human-readable message.
	Message string

	// Reason is an optional extended reason. When set, an <extValue> is emitted.
	Reason string

	// Value is the raw XML placed in <extValue><value>. Defaults to <undef/>.
	Value string
}

// BuildResponse encodes resp as an EPP response document.
func BuildResponse(resp *Response, clTRID, svTRID string) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: response is nil", ErrValidation)
	}
	if resp.Code < 1000 || resp.Code > 2599 {
		return nil, fmt.Errorf("%w: result code %d out of range", ErrValidation, resp.Code)
	}

	result := resultElement{
		Code: fmt.Sprintf("%04d", resp.Code),
		Msg:  messageElement{Lang: DefaultLang, Text: resp.Message},
	}
	if resp.Reason != "" {
		value := resp.Value
		if value == "" {
			value = "<undef/>"
		}
		result.ExtValues = []extValueElement{{
			Value:  rawElement{Inner: value},
			Reason: messageElement{Lang: DefaultLang, Text: resp.Reason},
		}}
	}

	doc := &responseDoc{
		Response: &responseElement{
			Results: []resultElement{result},
			TrID:    trIDElement{ClTRID: clTRID, SvTRID: svTRID},
		},
	}

	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
