// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	tblog "github.com/tombee/toolbridge/internal/log"
)

// discoveryConcurrency bounds parallel discoveries in DiscoverAll.
const discoveryConcurrency = 4

// catalogCache holds one catalog per server. Concurrent first lookups for
// the same server share a single tools/list exchange.
type catalogCache struct {
	mu       sync.RWMutex
	catalogs map[string]CapabilityCatalog
	group    singleflight.Group
}

func newCatalogCache() *catalogCache {
	return &catalogCache{catalogs: make(map[string]CapabilityCatalog)}
}

func (c *catalogCache) get(id string) (CapabilityCatalog, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.catalogs[id]
	return cat, ok
}

func (c *catalogCache) put(cat CapabilityCatalog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalogs[cat.ServerID] = cat
}

func (c *catalogCache) invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.catalogs, id)
}

// Discover queries the server's tool list and caches the result. A failed
// query caches an empty catalog marked DiscoveryFailed, so the catalog is
// never absent afterwards. The returned error is the discovery failure, if any.
func (m *Manager) Discover(ctx context.Context, id string) (CapabilityCatalog, error) {
	if _, err := m.lookup(id); err != nil {
		return CapabilityCatalog{}, err
	}

	raw, err := m.Call(ctx, id, MethodToolsList, nil, WithTimeout(m.settings.DiscoveryTimeout))

	cat := CapabilityCatalog{ServerID: id, Tools: []ToolDescriptor{}, DiscoveredAt: time.Now()}
	if err == nil {
		tools, perr := normalizeCatalog(raw)
		if perr != nil {
			err = newCallError(KindParse, 0, "parse error: tools/list result from '%s': %v", id, perr)
		} else {
			cat.Tools = tools
		}
	}
	if err != nil {
		cat.DiscoveryFailed = true
		cat.Error = err.Error()
		m.logger.Warn("capability discovery failed", tblog.ServerKey, id, tblog.Error(err))
	}

	m.catalogs.put(cat)
	m.events.EmitDiscovered(id, len(cat.Tools), cat.DiscoveryFailed)
	return cat, err
}

// GetCapabilities returns the cached catalog, discovering it on first use.
// A failed discovery is cached and returned without error. The shared
// discovery is detached from ctx cancellation; ctx only bounds this
// caller's wait.
func (m *Manager) GetCapabilities(ctx context.Context, id string) (CapabilityCatalog, error) {
	if cat, ok := m.catalogs.get(id); ok {
		return cat, nil
	}
	if _, err := m.lookup(id); err != nil {
		return CapabilityCatalog{}, err
	}

	ch := m.catalogs.group.DoChan(id, func() (any, error) {
		if cat, ok := m.catalogs.get(id); ok {
			return cat, nil
		}
		// A cold server needs its handshake as well as the tools/list.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.settings.InitTimeout+m.settings.DiscoveryTimeout)
		defer cancel()
		cat, _ := m.Discover(dctx, id)
		return cat, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return CapabilityCatalog{}, res.Err
		}
		return res.Val.(CapabilityCatalog), nil
	case <-ctx.Done():
		return CapabilityCatalog{}, ctx.Err()
	}
}

// DiscoverAll discovers every available server with bounded concurrency.
// Failures are recorded in each catalog rather than returned.
func (m *Manager) DiscoverAll(ctx context.Context) map[string]CapabilityCatalog {
	ids := m.ListAvailable()

	var mu sync.Mutex
	out := make(map[string]CapabilityCatalog, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			cat, err := m.GetCapabilities(gctx, id)
			if err != nil {
				cat = CapabilityCatalog{ServerID: id, Tools: []ToolDescriptor{}, DiscoveryFailed: true, Error: err.Error()}
			}
			mu.Lock()
			out[id] = cat
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// normalizeCatalog accepts a bare array of tools, an object with a tools
// array, or a result envelope wrapping either.
func normalizeCatalog(raw json.RawMessage) ([]ToolDescriptor, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []ToolDescriptor{}, nil
	}

	switch raw[0] {
	case '[':
		var tools []ToolDescriptor
		if err := json.Unmarshal(raw, &tools); err != nil {
			return nil, err
		}
		return tools, nil
	case '{':
		var obj struct {
			Tools  json.RawMessage `json:"tools"`
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		if len(obj.Tools) > 0 {
			return normalizeCatalog(obj.Tools)
		}
		if len(obj.Result) > 0 {
			return normalizeCatalog(obj.Result)
		}
		return []ToolDescriptor{}, nil
	default:
		return nil, fmt.Errorf("unexpected tools/list result: %s", truncate(raw))
	}
}
