package source

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// DecodeDataURI decodes data:[<mediatype>][;base64],<data>. Base64 payloads may
// use the standard or URL alphabet, padded or not, and may contain whitespace.
func DecodeDataURI(uri string) ([]byte, error) {
	if len(uri) < 5 || !strings.EqualFold(uri[:5], "data:") {
		return nil, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURI)
	}

	meta, payload, ok := strings.Cut(uri[5:], ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing comma", ErrInvalidDataURI)
	}

	isBase64 := false
	for _, param := range strings.Split(meta, ";") {
		if strings.EqualFold(strings.TrimSpace(param), "base64") {
			isBase64 = true
		}
	}

	if !isBase64 {
		data, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
		}
		if data == "" {
			return nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
		}
		return []byte(data), nil
	}

	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)
	if unescaped, err := url.PathUnescape(payload); err == nil {
		payload = unescaped
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
	}

	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if data, err := enc.DecodeString(payload); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: payload is not base64", ErrInvalidDataURI)
}
