// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the built-in storefront tool set. The storefront
// data store itself is external; tools reach it only through the
// Storefront interface.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

// Storefront is the external capability surface the built-in tools call.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Storefront interface {
	// SearchProducts returns in-stock products matching the query,
	// optionally bounded by a maximum price. A zero maxPrice means no
	// price bound.
	SearchProducts(ctx context.Context, query string, maxPrice float64, limit int) ([]datatypes.Product, error)

	// GetProduct returns one product by id.
	GetProduct(ctx context.Context, id string) (*datatypes.Product, error)

	// AddToCart adds a product to the user's cart and returns the
	// updated summary.
	AddToCart(ctx context.Context, userID, productID string, quantity int) (*CartSummary, error)

	// Policy returns the store policy text for a topic (shipping,
	// returns, warranty, payment).
	Policy(ctx context.Context, topic string) (string, error)
}

// ErrProductNotFound is returned for an unknown product id.
var ErrProductNotFound = errors.New("product not found")

// ErrPolicyNotFound is returned for an unknown policy topic.
var ErrPolicyNotFound = errors.New("no policy for topic")

// CartSummary is the cart state returned after a mutation.
type CartSummary struct {
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	Total     float64    `json:"total"`
	Currency  string     `json:"currency"`
	ItemCount int        `json:"item_count"`
}

// CartItem is one cart line.
type CartItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// SearchResult is the payload returned by the search_products tool.
// It carries the matched products to the transport as suggestions.
type SearchResult struct {
	Query    string              `json:"query"`
	Count    int                 `json:"count"`
	Products []datatypes.Product `json:"products"`
}

// SuggestedProducts implements ProductCarrier.
func (r SearchResult) SuggestedProducts() []datatypes.Product {
	return r.Products
}

type searchArgs struct {
	Query    string  `json:"query"`
	MaxPrice float64 `json:"max_price,omitempty"`
	Limit    int     `json:"limit,omitempty"`
}

type getProductArgs struct {
	ProductID string `json:"product_id"`
}

type addToCartArgs struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

type policyArgs struct {
	Topic string `json:"topic"`
}

// StorefrontTools returns the built-in tool definitions bound to a
// storefront.
func StorefrontTools(sf Storefront) []Definition {
	return []Definition{
		{
			Name:        "search_products",
			Description: "Search the catalog for in-stock products matching a text query, optionally bounded by a maximum price in LKR.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Free-text search terms"},
					"max_price": {"type": "number", "description": "Maximum unit price in LKR"},
					"limit": {"type": "integer", "description": "Maximum results to return (default 5)"}
				},
				"required": ["query"]
			}`),
			Handler: func(ctx context.Context, raw json.RawMessage, caller CallerContext) (any, error) {
				var args searchArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid search arguments: %w", err)
				}
				if args.Limit <= 0 {
					args.Limit = 5
				}
				products, err := sf.SearchProducts(ctx, args.Query, args.MaxPrice, args.Limit)
				if err != nil {
					return nil, err
				}
				return SearchResult{Query: args.Query, Count: len(products), Products: products}, nil
			},
		},
		{
			Name:        "get_product",
			Description: "Fetch full details for one product by its id.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"product_id": {"type": "string", "description": "The product id"}
				},
				"required": ["product_id"]
			}`),
			Handler: func(ctx context.Context, raw json.RawMessage, caller CallerContext) (any, error) {
				var args getProductArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid get_product arguments: %w", err)
				}
				return sf.GetProduct(ctx, args.ProductID)
			},
		},
		{
			Name:        "add_to_cart",
			Description: "Add a product to the current user's shopping cart.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"product_id": {"type": "string", "description": "The product id"},
					"quantity": {"type": "integer", "description": "Quantity to add (default 1)"}
				},
				"required": ["product_id"]
			}`),
			Handler: func(ctx context.Context, raw json.RawMessage, caller CallerContext) (any, error) {
				var args addToCartArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid add_to_cart arguments: %w", err)
				}
				if args.Quantity <= 0 {
					args.Quantity = 1
				}
				userID := caller.UserID
				if userID == "" {
					userID = caller.SessionID
				}
				return sf.AddToCart(ctx, userID, args.ProductID, args.Quantity)
			},
		},
		{
			Name:        "lookup_policy",
			Description: "Look up store policy text for a topic: shipping, returns, warranty, or payment.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"topic": {"type": "string", "description": "Policy topic"}
				},
				"required": ["topic"]
			}`),
			Handler: func(ctx context.Context, raw json.RawMessage, caller CallerContext) (any, error) {
				var args policyArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("invalid lookup_policy arguments: %w", err)
				}
				text, err := sf.Policy(ctx, args.Topic)
				if err != nil {
					return nil, err
				}
				return map[string]string{"topic": args.Topic, "policy": text}, nil
			},
		},
	}
}

// MemoryStorefront is an in-memory Storefront for tests and local
// development. The production storefront lives behind its own service;
// this keeps the engine runnable without it.
//
// Thread Safety: Safe for concurrent use.
type MemoryStorefront struct {
	mu       sync.RWMutex
	products map[string]datatypes.Product
	carts    map[string][]CartItem
	policies map[string]string
}

// NewMemoryStorefront creates a storefront seeded with the given
// products and a default policy set.
func NewMemoryStorefront(products []datatypes.Product) *MemoryStorefront {
	sf := &MemoryStorefront{
		products: make(map[string]datatypes.Product, len(products)),
		carts:    make(map[string][]CartItem),
		policies: map[string]string{
			"shipping": "Island-wide delivery in 2-5 working days. Free shipping on orders over 10000 LKR.",
			"returns":  "Unused items may be returned within 14 days of delivery for a full refund.",
			"warranty": "Electronics carry a 12-month manufacturer warranty.",
			"payment":  "We accept cards, bank transfer, and cash on delivery.",
		},
	}
	for _, p := range products {
		sf.products[p.ID] = p
	}
	return sf
}

// SetPolicy adds or replaces a policy topic.
func (s *MemoryStorefront) SetPolicy(topic, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[strings.ToLower(topic)] = text
}

// SearchProducts implements Storefront.
func (s *MemoryStorefront) SearchProducts(_ context.Context, query string, maxPrice float64, limit int) ([]datatypes.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var matches []datatypes.Product
	for _, p := range s.products {
		if !p.InStock {
			continue
		}
		if maxPrice > 0 && p.Price > maxPrice {
			continue
		}
		haystack := strings.ToLower(p.Name + " " + p.Description + " " + p.Category)
		matched := len(terms) == 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matched = true
				break
			}
		}
		if matched {
			matches = append(matches, p)
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Price < matches[j].Price })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// GetProduct implements Storefront.
func (s *MemoryStorefront) GetProduct(_ context.Context, id string) (*datatypes.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return &p, nil
}

// AddToCart implements Storefront.
func (s *MemoryStorefront) AddToCart(_ context.Context, userID, productID string, quantity int) (*CartSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	items := s.carts[userID]
	found := false
	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity += quantity
			found = true
			break
		}
	}
	if !found {
		items = append(items, CartItem{
			ProductID: productID,
			Name:      p.Name,
			Quantity:  quantity,
			UnitPrice: p.Price,
		})
	}
	s.carts[userID] = items

	summary := &CartSummary{UserID: userID, Items: items, Currency: "LKR"}
	for _, item := range items {
		summary.Total += item.UnitPrice * float64(item.Quantity)
		summary.ItemCount += item.Quantity
	}
	return summary, nil
}

// Policy implements Storefront.
func (s *MemoryStorefront) Policy(_ context.Context, topic string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	text, ok := s.policies[strings.ToLower(strings.TrimSpace(topic))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPolicyNotFound, topic)
	}
	return text, nil
}
