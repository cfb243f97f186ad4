// Package router partitions tool-call arguments into the path, query and
// body parts of an HTTP request.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ErrMissingPathParam is returned when the URL template still holds a
// placeholder after every argument has been classified.
var ErrMissingPathParam = errors.New("missing path parameter")

var placeholderPattern = regexp.MustCompile(`\{([^{}/]+)\}`)

// Classified is the outcome of routing a set of arguments. Every argument
// ends up in exactly one of URL, Query or Body.
type Classified struct {
	URL   string
	Path  map[string]any
	Query map[string]any
	Body  map[string]any
}

// Classify substitutes arguments named by a {key} placeholder into
// urlTemplate and sends the rest to the query string for GET and DELETE, or
// to the JSON body for every other method.
//
// Keys are visited in sorted order. Placeholders are matched on the full
// "{key}" token and substituted values are path-escaped, so the result does
// not depend on visiting order.
func Classify(urlTemplate, method string, args map[string]any) (Classified, error) {
	out := Classified{
		URL:   urlTemplate,
		Path:  make(map[string]any),
		Query: make(map[string]any),
		Body:  make(map[string]any),
	}
	queryMethod := usesQuery(method)

	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := args[key]
		placeholder := "{" + key + "}"
		if strings.Contains(out.URL, placeholder) {
			out.URL = substitute(out.URL, placeholder, FormatValue(value))
			out.Path[key] = value
			continue
		}
		if queryMethod {
			out.Query[key] = value
		} else {
			out.Body[key] = value
		}
	}

	if missing := placeholderPattern.FindAllStringSubmatch(out.URL, -1); len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, m := range missing {
			names = append(names, m[1])
		}
		return out, fmt.Errorf("%w: %s", ErrMissingPathParam, strings.Join(names, ", "))
	}
	return out, nil
}

// segmentEscaper encodes the sub-delimiters url.PathEscape leaves raw, so a
// substituted value stays a single opaque path segment.
var segmentEscaper = strings.NewReplacer(
	"!", "%21", "$", "%24", "&", "%26", "'", "%27", "(", "%28", ")", "%29",
	"*", "%2A", "+", "%2B", ",", "%2C", ";", "%3B", "=", "%3D", ":", "%3A", "@", "%40",
)

// substitute replaces placeholder with value, query-escaped after the first
// "?" of rawURL and segment-escaped before it.
func substitute(rawURL, placeholder, value string) string {
	path, query, hasQuery := strings.Cut(rawURL, "?")
	path = strings.ReplaceAll(path, placeholder, segmentEscaper.Replace(url.PathEscape(value)))
	if !hasQuery {
		return path
	}
	return path + "?" + strings.ReplaceAll(query, placeholder, url.QueryEscape(value))
}

// usesQuery reports whether leftover arguments of method travel in the
// query string.
func usesQuery(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodDelete:
		return true
	default:
		return false
	}
}

// FormatValue renders an argument for use in a URL: strings verbatim,
// everything else as its JSON encoding.
func FormatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}

// EncodeQuery renders query arguments as a URL-encoded string. Array values
// repeat the key once per element.
func EncodeQuery(params map[string]any) string {
	values := url.Values{}
	for key, value := range params {
		if items, ok := value.([]any); ok {
			for _, item := range items {
				values.Add(key, FormatValue(item))
			}
			continue
		}
		values.Add(key, FormatValue(value))
	}
	return values.Encode()
}
