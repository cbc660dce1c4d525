package research

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DomainReputation is one entry of the reputation file.
type DomainReputation struct {
	Domain        string `yaml:"domain"`
	Tier          int    `yaml:"tier"`
	Authoritative bool   `yaml:"authoritative"`
}

type reputationFile struct {
	Domains []DomainReputation `yaml:"domains"`
}

// Reputation maps domains to reputation tiers. Subdomains inherit the tier
// of their closest listed parent. Safe for concurrent use; Watch swaps the
// table atomically on file change.
type Reputation struct {
	mu      sync.RWMutex
	domains map[string]DomainReputation
	logger  *slog.Logger
}

// NewReputation builds a table from in-memory entries.
func NewReputation(entries ...DomainReputation) *Reputation {
	r := &Reputation{logger: slog.Default()}
	r.set(entries)
	return r
}

// LoadReputation reads a YAML reputation file:
//
//	domains:
//	  - domain: nature.com
//	    tier: 1
//	    authoritative: true
func LoadReputation(path string) (*Reputation, error) {
	entries, err := readReputation(path)
	if err != nil {
		return nil, err
	}
	return NewReputation(entries...), nil
}

func readReputation(path string) ([]DomainReputation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reputation file: %w", err)
	}
	var f reputationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse reputation file %s: %w", path, err)
	}
	for i, d := range f.Domains {
		if d.Domain == "" {
			return nil, fmt.Errorf("reputation entry %d: domain is required", i)
		}
		if d.Tier < 0 {
			return nil, fmt.Errorf("reputation entry %s: tier must be >= 0", d.Domain)
		}
	}
	return f.Domains, nil
}

func (r *Reputation) set(entries []DomainReputation) {
	m := make(map[string]DomainReputation, len(entries))
	for _, e := range entries {
		e.Domain = strings.TrimPrefix(strings.ToLower(e.Domain), "www.")
		m[e.Domain] = e
	}
	r.mu.Lock()
	r.domains = m
	r.mu.Unlock()
}

// Lookup returns the reputation of a domain. Unknown domains are tier 0.
func (r *Reputation) Lookup(domain string) DomainReputation {
	if r == nil {
		return DomainReputation{Domain: domain}
	}
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")

	r.mu.RLock()
	defer r.mu.RUnlock()
	for d := domain; d != ""; {
		if e, ok := r.domains[d]; ok {
			return e
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return DomainReputation{Domain: domain}
}

// Watch reloads the table from path whenever the file is written, until
// ctx is done. A file that fails to parse leaves the previous table in
// place.
func (r *Reputation) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	r.logger.Info("watching reputation file", slog.String("path", path))

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				entries, err := readReputation(path)
				if err != nil {
					r.logger.Error("failed to reload reputation file",
						slog.String("path", path),
						slog.String("error", err.Error()))
					continue
				}
				r.set(entries)
				r.logger.Info("reputation file reloaded",
					slog.String("path", path),
					slog.Int("domains", len(entries)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Error("reputation watch error", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}
