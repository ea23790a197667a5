// Package rawhttp prettifies HTTP bodies (used for the operator's flow
// snapshots) and dumps requests/responses with a prettified variant; the
// audit log dumps with net/http/httputil directly. Adapted from the
// teacher's rawhttp/rawhttp.go. RebuildRequest/
// RebuildResponse are deliberately not carried over: this spec's
// Modification semantics (spec §4.1) act on parsed struct fields (method,
// url, headers, body) applied directly to the live *http.Request, not on a
// raw-byte dump re-parsed with http.ReadRequest the way the teacher's UI-
// driven raw-edit flow works — see DESIGN.md.
package rawhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/beevik/etree"
	"github.com/gabriel-vasile/mimetype"
	"github.com/yosssi/gohtml"
)

// Prettify attempts to pretty-print bodyBytes as JSON, XML, or HTML. It
// returns an empty slice (not an error) when the body matches none of
// those, since that's just "nothing to prettify", not a failure.
func Prettify(bodyBytes []byte) ([]byte, error) {
	if len(bodyBytes) == 0 {
		return []byte{}, nil
	}

	trimmed := bytes.TrimSpace(bodyBytes)

	var jsonData any
	if err := json.Unmarshal(trimmed, &jsonData); err == nil {
		out, err := json.MarshalIndent(jsonData, "", "  ")
		if err != nil {
			return []byte{}, fmt.Errorf("remarshalling JSON: %w", err)
		}
		return out, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(trimmed); err == nil && doc.Root() != nil {
		doc.Indent(1)
		var out bytes.Buffer
		if _, err := doc.WriteTo(&out); err != nil {
			return []byte{}, fmt.Errorf("writing indented XML: %w", err)
		}
		return out.Bytes(), nil
	}

	contentType := mimetype.Detect(trimmed).String()
	if strings.Contains(contentType, "text/html") ||
		(bytes.HasPrefix(trimmed, []byte("<")) && !bytes.HasPrefix(trimmed, []byte("<?xml"))) {
		out := gohtml.FormatBytes(trimmed)
		if !bytes.Equal(out, trimmed) && len(out) > 0 {
			return out, nil
		}
	}

	return []byte{}, nil
}

// DumpResponse returns the full raw dump and, if the body prettifies, a
// prettified variant, while leaving res.Body re-readable by the caller.
func DumpResponse(res *http.Response) (rawDump []byte, prettyDump string, err error) {
	headerDump, err := httputil.DumpResponse(res, false)
	if err != nil {
		return nil, "", fmt.Errorf("dumping response: %w", err)
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading response body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	fullDump := append(append([]byte{}, headerDump...), bodyBytes...)

	prettified, err := Prettify(bodyBytes)
	if err != nil || len(prettified) == 0 {
		return fullDump, "", nil
	}

	return fullDump, string(headerDump) + string(prettified), nil
}

// DumpRequest mirrors DumpResponse for requests.
func DumpRequest(req *http.Request) (rawDump []byte, prettyDump string, err error) {
	headerDump, err := httputil.DumpRequest(req, false)
	if err != nil {
		return nil, "", fmt.Errorf("dumping request: %w", err)
	}

	bodyBytes, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	fullDump := append(append([]byte{}, headerDump...), bodyBytes...)

	prettified, err := Prettify(bodyBytes)
	if err != nil || len(prettified) == 0 {
		return fullDump, "", nil
	}

	return fullDump, string(headerDump) + string(prettified), nil
}
