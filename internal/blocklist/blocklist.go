// Package blocklist maintains the JSON blocklist file consumed by the
// network edge. All mutations funnel through a single writer goroutine so
// concurrent block actions never interleave their read-modify-write windows.
package blocklist

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/soarkit/backend/internal/models"
)

// ErrClosed is returned when a block request arrives after Close.
var ErrClosed = errors.New("blocklist: writer closed")

type kind int

const (
	kindDomain kind = iota
	kindIP
)

type request struct {
	kind  kind
	value string
	reply chan response
}

type response struct {
	result models.Document
	err    error
}

// Writer serializes blocklist mutations. Create with NewWriter and stop
// with Close.
type Writer struct {
	path      string
	reqs      chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWriter starts the writer goroutine for the blocklist at path.
func NewWriter(path string) *Writer {
	w := &Writer{
		path: path,
		reqs: make(chan request),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		select {
		case req := <-w.reqs:
			result, err := w.apply(req.kind, req.value)
			req.reply <- response{result: result, err: err}
		case <-w.quit:
			return
		}
	}
}

// BlockDomain adds a lowercased domain to the blocklist.
func (w *Writer) BlockDomain(ctx context.Context, domain string) (models.Document, error) {
	return w.submit(ctx, kindDomain, strings.ToLower(domain))
}

// BlockIP adds an IP to the blocklist verbatim.
func (w *Writer) BlockIP(ctx context.Context, ip string) (models.Document, error) {
	return w.submit(ctx, kindIP, ip)
}

func (w *Writer) submit(ctx context.Context, k kind, value string) (models.Document, error) {
	req := request{kind: k, value: value, reply: make(chan response, 1)}
	select {
	case w.reqs <- req:
	case <-w.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the writer. In-flight requests complete; later calls return
// ErrClosed.
func (w *Writer) Close() {
	w.closeOnce.Do(func() { close(w.quit) })
	<-w.done
}

// apply performs one read-modify-write cycle. Only the writer goroutine
// calls it.
func (w *Writer) apply(k kind, value string) (models.Document, error) {
	data := w.read()

	switch k {
	case kindDomain:
		data["domains"] = addSorted(data["domains"], value, true)
		if _, ok := data["ips"]; !ok {
			data["ips"] = []string{}
		}
	case kindIP:
		data["ips"] = addSorted(data["ips"], value, false)
		if _, ok := data["domains"]; !ok {
			data["domains"] = []string{}
		}
	}

	if err := w.write(data); err != nil {
		return nil, err
	}

	result := models.Document{"updated": true, "blocklist_path": w.path}
	if k == kindDomain {
		result["domain"] = value
	} else {
		result["ip"] = value
	}
	return result, nil
}

// read loads the current file; a missing or unparseable file yields an
// empty blocklist rather than an error.
func (w *Writer) read() map[string]interface{} {
	blob, err := os.ReadFile(w.path)
	if err != nil {
		return map[string]interface{}{"domains": []string{}, "ips": []string{}}
	}
	var data map[string]interface{}
	if err := json.Unmarshal(blob, &data); err != nil || data == nil {
		return map[string]interface{}{"domains": []string{}, "ips": []string{}}
	}
	return data
}

func (w *Writer) write(data map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(w.path, append(blob, '\n'), 0o644)
}

// addSorted merges value into the existing list, deduplicated and sorted.
// Non-string entries from a hand-edited file are dropped.
func addSorted(existing interface{}, value string, lowercase bool) []string {
	set := map[string]struct{}{}
	if list, ok := existing.([]interface{}); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				if lowercase {
					s = strings.ToLower(s)
				}
				set[s] = struct{}{}
			}
		}
	}
	set[value] = struct{}{}

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
