package core

import (
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/xkilldash9x/jsbox/api/schemas"
)

// maxURLs bounds the per-task URL set.
const maxURLs = 5000

// suspiciousExtensions lists executable and server-script extensions.
var suspiciousExtensions = map[string]bool{
	"exe": true, "dll": true, "scr": true, "bat": true, "cmd": true, "com": true,
	"ps1": true, "psm1": true, "vbs": true, "vbe": true, "jse": true,
	"wsf": true, "wsh": true, "hta": true, "msi": true, "jar": true, "lnk": true,
	"pif": true, "cpl": true, "apk": true, "dmg": true, "iso": true, "sh": true,
	"php": true, "asp": true, "aspx": true, "jsp": true, "cgi": true, "pl": true,
}

// URLCollector is the per-task deduplicated URL set.
type URLCollector struct {
	mu      sync.Mutex
	order   []string
	records map[string]schemas.URLRecord
}

// NewURLCollector creates an empty collector.
func NewURLCollector() *URLCollector {
	return &URLCollector{records: make(map[string]schemas.URLRecord)}
}

// Add records a URL seen by source. Only the first sighting is kept.
func (c *URLCollector) Add(raw, source string) bool {
	u := strings.TrimSpace(raw)
	if u == "" || len(u) > 4096 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[u]; ok || len(c.order) >= maxURLs {
		return false
	}
	ext := Extension(u)
	c.records[u] = schemas.URLRecord{
		URL:                 u,
		Source:              source,
		Extension:           ext,
		SuspiciousExtension: suspiciousExtensions[ext],
	}
	c.order = append(c.order, u)
	return true
}

// AddAll records several URLs from the same source.
func (c *URLCollector) AddAll(urls []string, source string) {
	for _, u := range urls {
		c.Add(u, source)
	}
}

// URLs returns the collected URLs in first-seen order.
func (c *URLCollector) URLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// Records returns per-URL metadata in first-seen order.
func (c *URLCollector) Records() []schemas.URLRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schemas.URLRecord, 0, len(c.order))
	for _, u := range c.order {
		out = append(out, c.records[u])
	}
	return out
}

// Len returns the number of collected URLs.
func (c *URLCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Extension returns the lower-cased path extension of a URL, without the dot.
func Extension(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	return strings.ToLower(ext)
}

// IsSuspiciousExtension reports whether ext is on the executable list.
func IsSuspiciousExtension(ext string) bool {
	return suspiciousExtensions[strings.ToLower(strings.TrimPrefix(ext, "."))]
}
