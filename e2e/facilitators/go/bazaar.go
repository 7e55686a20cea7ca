package main

import (
	"log"
	"sync"
	"time"

	x402 "x402-go"
	exttypes "x402-go/extensions/types"
)

// DiscoveredResource is one paid endpoint the facilitator has seen,
// exposed through the discovery listing.
type DiscoveredResource struct {
	Resource      string                     `json:"resource"`
	Type          string                     `json:"type"`
	X402Version   int                        `json:"x402Version"`
	Accepts       []x402.PaymentRequirements `json:"accepts"`
	DiscoveryInfo *exttypes.DiscoveryInfo    `json:"discoveryInfo,omitempty"`
	LastUpdated   string                     `json:"lastUpdated"`
	Metadata      map[string]interface{}     `json:"metadata,omitempty"`
}

// BazaarCatalog collects resources discovered during verification,
// keyed by resource URL. Re-discovery overwrites the previous entry.
type BazaarCatalog struct {
	mu        sync.RWMutex
	resources map[string]DiscoveredResource
}

func NewBazaarCatalog() *BazaarCatalog {
	return &BazaarCatalog{resources: make(map[string]DiscoveredResource)}
}

func (c *BazaarCatalog) CatalogResource(
	resourceURL string,
	method string,
	x402Version int,
	discoveryInfo *exttypes.DiscoveryInfo,
	paymentRequirements x402.PaymentRequirements,
) {
	log.Printf("discovered resource %s (%s, x402 v%d)", resourceURL, method, x402Version)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resources[resourceURL] = DiscoveredResource{
		Resource:      resourceURL,
		Type:          "http",
		X402Version:   x402Version,
		Accepts:       []x402.PaymentRequirements{paymentRequirements},
		DiscoveryInfo: discoveryInfo,
		LastUpdated:   time.Now().Format(time.RFC3339),
		Metadata:      make(map[string]interface{}),
	}
}

// GetResources returns one page of the catalog plus the total count
func (c *BazaarCatalog) GetResources(limit, offset int) ([]DiscoveredResource, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := make([]DiscoveredResource, 0, len(c.resources))
	for _, r := range c.resources {
		all = append(all, r)
	}

	total := len(all)
	if offset >= total {
		return []DiscoveredResource{}, total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total
}

func (c *BazaarCatalog) GetCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.resources)
}
