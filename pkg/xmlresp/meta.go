package xmlresp

import (
	"bytes"
	"regexp"
	"strings"
)

// Meta is the header outcome of an upstream answer, extracted without a full parse.
type Meta struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	SOAPFault bool   `json:"soapFault,omitempty"`
}

// OK reports whether the header signals success. An absent or empty code counts as success.
func (m Meta) OK() bool {
	return !m.SOAPFault && (m.Code == "" || m.Code == CodeSuccess)
}

var (
	resultCodeRe  = regexp.MustCompile(`(?i)<resultCode>([^<]*)</resultCode>`)
	resultMsgRe   = regexp.MustCompile(`(?i)<resultMsg>([^<]*)</resultMsg>`)
	faultStringRe = regexp.MustCompile(`(?i)<faultstring>([^<]*)</faultstring>`)
)

// SOAPFaultCode is reported as Code when the upstream gateway answers with a SOAP fault.
const SOAPFaultCode = "500"

// ExtractMeta pulls resultCode/resultMsg out of raw, or detects a SOAP fault
// envelope. Works on truncated or otherwise unparseable bodies.
func ExtractMeta(raw []byte) Meta {
	if len(raw) == 0 {
		return Meta{}
	}

	if IsSOAPFault(raw) {
		msg := "SOAP Fault"
		if m := faultStringRe.FindSubmatch(raw); m != nil {
			msg = strings.TrimSpace(string(m[1]))
		}
		return Meta{Code: SOAPFaultCode, Message: msg, SOAPFault: true}
	}

	var meta Meta
	if m := resultCodeRe.FindSubmatch(raw); m != nil {
		meta.Code = strings.TrimSpace(string(m[1]))
	}
	if m := resultMsgRe.FindSubmatch(raw); m != nil {
		meta.Message = strings.TrimSpace(string(m[1]))
	}
	return meta
}

// IsSOAPFault reports whether raw is a SOAP fault envelope.
func IsSOAPFault(raw []byte) bool {
	return bytes.Contains(raw, []byte("SOAP-ENV:Fault")) ||
		bytes.Contains(raw, []byte("soap:Fault")) ||
		bytes.Contains(raw, []byte("soapenv:Fault"))
}
