package targets

import (
	"encoding/json"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"tunnel-proxy/internal/ui"
)

// Target is the local service endpoint a tunnel name resolves to.
type Target struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the target as a dialable host:port address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Resolver maps tunnel names to local targets. The backing file is maintained
// by the tunnel tooling and re-read whenever its modification time advances;
// request handlers only ever see a fully parsed map.
type Resolver struct {
	mu           sync.Mutex
	path         string
	targets      map[string]Target
	lastModified time.Time
	loads        int
}

// NewResolver creates a resolver backed by the given mapping file. The file
// does not need to exist yet; lookups resolve nothing until it appears.
func NewResolver(path string) *Resolver {
	return &Resolver{
		path:    path,
		targets: make(map[string]Target),
	}
}

// Resolve returns the target for a tunnel name. A missing entry is a normal
// outcome (the tunnel is not provisioned yet) and reports ok=false.
func (r *Resolver) Resolve(name string) (Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reloadIfChanged()
	t, ok := r.targets[name]
	return t, ok
}

// Count returns the number of loaded target mappings.
func (r *Resolver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reloadIfChanged()
	return len(r.targets)
}

// reloadIfChanged re-parses the mapping file if its mtime advanced since the
// last successful load. On any failure the previous map stays in place and
// the recorded mtime is not advanced, so the next lookup retries.
// Caller must hold r.mu.
func (r *Resolver) reloadIfChanged() {
	info, err := os.Stat(r.path)
	if err != nil {
		// File not there yet, keep serving whatever we have
		return
	}

	mtime := info.ModTime()
	if !mtime.After(r.lastModified) {
		return
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		ui.LogStatus("warn", "Failed to read targets file: "+err.Error())
		return
	}

	fresh := make(map[string]Target)
	if err := json.Unmarshal(data, &fresh); err != nil {
		ui.LogStatus("warn", "Failed to parse targets file, keeping previous mappings: "+err.Error())
		return
	}

	r.targets = fresh
	r.lastModified = mtime
	r.loads++
	ui.LogStatus("info", "Loaded "+strconv.Itoa(len(fresh))+" tunnel targets")
}
