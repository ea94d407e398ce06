package extract

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/dustin/go-humanize"

	"github.com/MimeLyc/book-translator/internal/errs"
	"github.com/MimeLyc/book-translator/pkg/log"
)

// extractURL downloads src.URL and extracts it. The format comes from the
// explicit hint, then the URL path suffix, then the response Content-Type,
// and finally defaults to HTML.
func (e *Extractor) extractURL(ctx context.Context, src Source) (string, error) {
	u, err := url.Parse(src.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", errs.Newf(errs.KindValidation, "invalid url %q", src.URL)
	}

	format := src.Format
	if format == FormatUnknown {
		format = urlPathFormat(u.Path)
	}
	if err := checkRemoteFormat(format); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errs.Wrap(err, errs.KindExtraction, "build request")
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", errs.Wrap(err, errs.KindExtraction, "download source").WithContext("url", src.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errs.Newf(errs.KindExtraction, "download source: unexpected status %d", resp.StatusCode).
			WithContext("url", src.URL)
	}

	if format == FormatUnknown {
		format = FormatFromContentType(resp.Header.Get("Content-Type"))
		if err := checkRemoteFormat(format); err != nil {
			return "", err
		}
	}
	if format == FormatUnknown {
		format = FormatHTML
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxDownloadBytes+1))
	if err != nil {
		return "", errs.Wrap(err, errs.KindExtraction, "read response body").WithContext("url", src.URL)
	}
	if int64(len(body)) > e.maxDownloadBytes {
		return "", errs.New(errs.KindExtraction, "download exceeds "+humanize.IBytes(uint64(e.maxDownloadBytes))).
			WithContext("url", src.URL)
	}

	log.Debug("Downloaded %s from %s as %s", humanize.IBytes(uint64(len(body))), src.URL, format)
	return e.ExtractBytes(format, body)
}

// checkRemoteFormat rejects container formats that are only supported from
// local files.
func checkRemoteFormat(f Format) error {
	switch f {
	case FormatEPUB, FormatDOCX:
		return errs.Newf(errs.KindUnsupportedFormat, "%s is not supported for url sources", f)
	default:
		return nil
	}
}
