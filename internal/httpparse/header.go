package httpparse

import "strings"

// Headers is a case-insensitive name -> single-value mapping.
//
// Storage keys are normalized to lower-case so Get("Host"),
// Get("host") and Get("HOST") all return the same value. Duplicate
// header lines with the same name are joined with ", " on Add,
// matching RFC 7230 §3.2.2 — except Set-Cookie, which has no business
// appearing in a request and is rejected outright by the parser rather
// than silently combined.
type Headers struct {
	m map[string]string
}

// newHeaders returns an empty Headers ready for Add.
func newHeaders() Headers {
	return Headers{m: make(map[string]string, 16)}
}

// NewHeaders returns an empty Headers ready for Set/Add, for callers
// outside this package that build a Request synthetically in tests.
func NewHeaders() Headers {
	return newHeaders()
}

// Add appends value to name, joining with ", " if name was already set.
func (h *Headers) Add(name, value string) {
	key := strings.ToLower(name)
	if existing, ok := h.m[key]; ok {
		h.m[key] = existing + ", " + value
	} else {
		h.m[key] = value
	}
}

// Set overwrites any prior value for name.
func (h *Headers) Set(name, value string) {
	h.m[strings.ToLower(name)] = value
}

// Get returns the value for name (case-insensitive), or "" if absent.
func (h Headers) Get(name string) string {
	return h.m[strings.ToLower(name)]
}

// Has reports whether name was present at all.
func (h Headers) Has(name string) bool {
	_, ok := h.m[strings.ToLower(name)]
	return ok
}

// Del removes name.
func (h *Headers) Del(name string) {
	delete(h.m, strings.ToLower(name))
}

// Len returns the number of distinct header names stored.
func (h Headers) Len() int {
	return len(h.m)
}

// Each calls fn once per stored header, with name already lower-cased.
// Iteration order is unspecified, matching Go map-iteration semantics.
func (h Headers) Each(fn func(name, value string)) {
	for k, v := range h.m {
		fn(k, v)
	}
}

// isToken reports whether s is a non-empty RFC 7230 "token" (tchar*).
func isToken(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isTchar(s[i]) {
			return false
		}
	}
	return true
}

// isTchar implements RFC 7230 §3.2.6's tchar character class.
func isTchar(c byte) bool {
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	if c >= '0' && c <= '9' {
		return true
	}
	if c >= 'A' && c <= 'Z' {
		return true
	}
	if c >= 'a' && c <= 'z' {
		return true
	}
	return false
}
