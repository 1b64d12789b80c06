package services

import (
	"context"
	"strconv"
	"sync"

	"github.com/Sebastian-Fischer/PrivIoT-sub000/protocol"
)

// Directory serves a node's resource listing in link-format.
type Directory struct {
	mu    sync.RWMutex
	links map[string]protocol.Link
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{links: make(map[string]protocol.Link)}
}

// Add lists path with the given attributes, replacing an earlier listing.
func (d *Directory) Add(path string, attrs map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.links[path] = protocol.Link{Path: path, Attrs: attrs}
}

// Links returns the listed entries.
func (d *Directory) Links() []protocol.Link {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.Link, 0, len(d.links))
	for _, l := range d.links {
		out = append(out, l)
	}
	return out
}

func (d *Directory) ServeRequest(_ context.Context, req *protocol.Request) *protocol.Response {
	if req.Method != protocol.GET {
		return protocol.Errorf(protocol.MethodNotAllowed, "method %s not allowed, use GET", req.Method)
	}
	if !req.Accepts(protocol.LinkFormat) {
		return protocol.Errorf(protocol.NotAcceptable, "directory is only available as %s", protocol.LinkFormat)
	}
	resp := protocol.NewResponse(protocol.Content)
	resp.ContentFormat = protocol.LinkFormat
	resp.Payload = []byte(protocol.FormatLinks(d.Links()))
	return resp
}

// observableAttrs are the link attributes of an observable resource in format.
func observableAttrs(format protocol.ContentFormat) map[string]string {
	attrs := map[string]string{"obs": ""}
	if format != protocol.NoFormat {
		attrs["ct"] = strconv.Itoa(int(format))
	}
	return attrs
}
