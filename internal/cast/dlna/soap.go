package dlna

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/castbridge/castd/internal/castderr"
)

const (
	avTransportURN      = "urn:schemas-upnp-org:service:AVTransport:1"
	renderingControlURN = "urn:schemas-upnp-org:service:RenderingControl:1"
)

// soapEnvelope builds the standard SOAP envelope around a single action
// element, the way the teacher's serviceControlHandler builds its
// response envelope in dms.go, generalized to the client/request side.
func soapEnvelope(serviceURN, action, argsXML string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
		`<s:Body><u:` + action + ` xmlns:u="` + serviceURN + `">` + argsXML + `</u:` + action + `></s:Body>` +
		`</s:Envelope>`
}

func arg(name, value string) string {
	return "<" + name + ">" + escapeXML(value) + "</" + name + ">"
}

// soapResponse is a loose tag-scoped extraction of the SOAP response
// body; full DOM parsing is unnecessary for this fixed schema per
// spec.md §9.
type soapResponse struct {
	raw []byte
}

func (r soapResponse) get(tag string) string {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	s := string(r.raw)
	start := strings.Index(s, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(s[start:], closeTag)
	if end < 0 {
		return ""
	}
	return s[start : start+end]
}

// doSOAP POSTs a SOAP action to controlURL and returns the parsed
// response. Success is HTTP 200; anything else is a dlna(...) error
// carrying the response body, per spec.md §4.3.2.
func (c *Client) doSOAP(ctx context.Context, controlURL, serviceURN, action, argsXML string) (soapResponse, error) {
	body := soapEnvelope(serviceURN, action, argsXML)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewBufferString(body))
	if err != nil {
		return soapResponse{}, castderr.Wrap(castderr.DLNA, "build request", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, serviceURN, action))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return soapResponse{}, castderr.Wrap(castderr.ConnectionFailed, "SOAP POST "+action, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return soapResponse{}, castderr.DLNAf("%s: HTTP %d: %s", action, resp.StatusCode, string(raw))
	}
	return soapResponse{raw: raw}, nil
}
