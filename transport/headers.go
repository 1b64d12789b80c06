package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
)

const (
	// HeaderOriginEndpoint carries the advertised endpoint of the sender.
	HeaderOriginEndpoint = "Origin-Endpoint"
	// HeaderResponseCode carries the protocol code in dotted form.
	HeaderResponseCode = "Response-Code"
	// HeaderContentFormat carries the numeric content-format.
	HeaderContentFormat = "Content-Format"
)

var codeStatus = map[protocol.Code]int{
	protocol.Created:             http.StatusCreated,
	protocol.Deleted:             http.StatusOK,
	protocol.Valid:               http.StatusOK,
	protocol.Changed:             http.StatusOK,
	protocol.Content:             http.StatusOK,
	protocol.BadRequest:          http.StatusBadRequest,
	protocol.Forbidden:           http.StatusForbidden,
	protocol.NotFound:            http.StatusNotFound,
	protocol.MethodNotAllowed:    http.StatusMethodNotAllowed,
	protocol.NotAcceptable:       http.StatusNotAcceptable,
	protocol.InternalServerError: http.StatusInternalServerError,
	protocol.ServiceUnavailable:  http.StatusServiceUnavailable,
	protocol.GatewayTimeout:      http.StatusGatewayTimeout,
}

func statusForCode(c protocol.Code) int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	switch c.Class() {
	case 2:
		return http.StatusOK
	case 4:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// codeForStatus is used when a response lacks the Response-Code header.
func codeForStatus(status int) protocol.Code {
	switch status {
	case http.StatusOK:
		return protocol.Content
	case http.StatusCreated:
		return protocol.Created
	}
	for c, s := range codeStatus {
		if s == status && !c.Success() {
			return c
		}
	}
	switch {
	case status < 300:
		return protocol.Content
	case status < 500:
		return protocol.BadRequest
	}
	return protocol.InternalServerError
}

func parseCode(s string) (protocol.Code, error) {
	var class, detail uint8
	if _, err := fmt.Sscanf(s, "%d.%d", &class, &detail); err != nil {
		return 0, fmt.Errorf("malformed response code %q", s)
	}
	if class > 7 || detail > 31 {
		return 0, fmt.Errorf("response code %q out of range", s)
	}
	return protocol.Code(class<<5 | detail), nil
}

func methodFromHTTP(m string) (protocol.Method, bool) {
	switch m {
	case http.MethodGet:
		return protocol.GET, true
	case http.MethodPost:
		return protocol.POST, true
	case http.MethodPut:
		return protocol.PUT, true
	}
	return "", false
}

func setContentFormat(h http.Header, f protocol.ContentFormat) {
	if f == protocol.NoFormat {
		return
	}
	h.Set(HeaderContentFormat, strconv.Itoa(int(f)))
	if mime := f.MIME(); mime != "" {
		h.Set("Content-Type", mime)
	}
}

func contentFormat(h http.Header) protocol.ContentFormat {
	if v := h.Get(HeaderContentFormat); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			return protocol.ContentFormat(n)
		}
	}
	if f, ok := protocol.ParseMIME(h.Get("Content-Type")); ok {
		return f
	}
	return protocol.NoFormat
}

func setAccept(h http.Header, formats []protocol.ContentFormat) {
	mimes := make([]string, 0, len(formats))
	for _, f := range formats {
		if m := f.MIME(); m != "" {
			mimes = append(mimes, m)
		}
	}
	if len(mimes) > 0 {
		h.Set("Accept", strings.Join(mimes, ", "))
	}
}

// accept parses the Accept header. Wildcards and unknown types are dropped;
// a header naming only those accepts anything.
func accept(h http.Header) []protocol.ContentFormat {
	var formats []protocol.ContentFormat
	for _, v := range h.Values("Accept") {
		for _, part := range strings.Split(v, ",") {
			if f, ok := protocol.ParseMIME(part); ok {
				formats = append(formats, f)
			}
		}
	}
	return formats
}

func setMaxAge(h http.Header, maxAge uint32) {
	h.Set("Cache-Control", "max-age="+strconv.FormatUint(uint64(maxAge), 10))
}

func maxAge(h http.Header) uint32 {
	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil {
				return uint32(n)
			}
		}
	}
	return protocol.DefaultMaxAge
}

func responseHeaders(h http.Header, resp *protocol.Response) {
	h.Set(HeaderResponseCode, resp.Code.String())
	setContentFormat(h, resp.ContentFormat)
	setMaxAge(h, resp.MaxAge)
}

func responseFromHTTP(resp *http.Response, body []byte) *protocol.Response {
	code, err := parseCode(resp.Header.Get(HeaderResponseCode))
	if err != nil {
		code = codeForStatus(resp.StatusCode)
	}
	return &protocol.Response{
		Code:          code,
		ContentFormat: contentFormat(resp.Header),
		MaxAge:        maxAge(resp.Header),
		Payload:       body,
	}
}
