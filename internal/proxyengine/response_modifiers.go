package proxyengine

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/marasi-sentinel/sentinel/internal/reqctx"
)

// dropRewriteModifier emits the synthesized 418 drop response for flows the
// operator decided to drop (spec §4.1 intercept protocol, dispatch "drop").
// The round trip was already skipped in interceptTriggerModifier, so
// whatever response martian synthesized here gets overwritten in place.
func dropRewriteModifier(e *Engine, res *http.Response) error {
	spec, ok := pendingDrop(res.Request.Context())
	if !ok {
		return nil
	}
	res.StatusCode = spec.statusCode
	res.Status = fmt.Sprintf("%d %s", spec.statusCode, http.StatusText(spec.statusCode))
	res.Header = make(http.Header)
	res.Header.Set("Content-Type", spec.contentType)
	res.Body = io.NopCloser(strings.NewReader(spec.body))
	res.ContentLength = int64(len(spec.body))
	res.Header.Set("Content-Length", fmt.Sprintf("%d", len(spec.body)))
	return nil
}

// bufferStreamingBodyModifier reads the whole body into memory so later
// phases (decompression, HTML injection, audit) can inspect and rewrite it.
func bufferStreamingBodyModifier(e *Engine, res *http.Response) error {
	if res.Request.Method == http.MethodConnect {
		return ErrSkipPipeline
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	res.TransferEncoding = nil
	return nil
}

// decompressResponseModifier undoes gzip/brotli compression so the
// injection modifier can operate on plain HTML text.
func decompressResponseModifier(e *Engine, res *http.Response) error {
	encoding := res.Header.Get("Content-Encoding")
	if encoding == "" || res.Body == nil || res.ContentLength <= 0 {
		return nil
	}

	var reader io.Reader
	switch encoding {
	case "gzip":
		gzr, err := gzip.NewReader(res.Body)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr
	case "br":
		reader = brotli.NewReader(res.Body)
	default:
		return nil
	}

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("decompressing response body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(decompressed))
	res.ContentLength = int64(len(decompressed))
	res.Header.Set("Content-Length", fmt.Sprintf("%d", len(decompressed)))
	res.Header.Del("Content-Encoding")
	return nil
}

const beaconCommentPrefix = "<!-- injected id="

// buildBeacon renders the beacon snippet spec §4.1/§6 requires.
func buildBeacon(callbackBase, injectionID string) string {
	return fmt.Sprintf(
		`%s%s --><img src="%s?id=%s&source=proxy-inject" style="display:none">`,
		beaconCommentPrefix, injectionID, callbackBase, injectionID,
	)
}

// insertBeforeLastBodyClose implements spec §9's "string search for
// </body>" design note: insert immediately before the last (case-insensitive)
// occurrence, or append at EOF if there is none.
func insertBeforeLastBodyClose(html, beacon string) string {
	lower := strings.ToLower(html)
	idx := strings.LastIndex(lower, "</body>")
	if idx < 0 {
		return html + beacon
	}
	return html[:idx] + beacon + html[idx:]
}

func isHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

// injectionModifier implements spec §4.1's response phase: if the request
// carried X-Injection-Id and the response is HTML, splice in the beacon and
// flip the Injection record to injected=true.
func injectionModifier(e *Engine, res *http.Response) error {
	injectionID, ok := reqctx.InjectionID(res.Request.Context())
	if !ok {
		return nil
	}
	if !isHTMLContentType(res.Header.Get("Content-Type")) {
		return nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		e.logger.Error("injection failed reading body", "error", err, "injection_id", injectionID)
		return nil
	}
	res.Body = io.NopCloser(bytes.NewReader(body))

	rewritten := insertBeforeLastBodyClose(string(body), buildBeacon(e.CallbackBase, injectionID))

	res.Body = io.NopCloser(strings.NewReader(rewritten))
	res.ContentLength = int64(len(rewritten))
	res.Header.Set("Content-Length", fmt.Sprintf("%d", len(rewritten)))

	if err := e.Callbacks.MarkInjected(injectionID, time.Now()); err != nil {
		e.logger.Error("marking injection succeeded failed", "error", err, "injection_id", injectionID)
		return nil
	}
	res.Request = reqctx.WithInjected(res.Request, true)
	if e.Metrics != nil {
		e.Metrics.RecordInjectionSucceeded()
	}
	return nil
}
