// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

// LoadCatalog reads a JSON product catalog from disk.
//
// The file is a JSON array of product records matching
// datatypes.Product. Prices are in LKR.
func LoadCatalog(path string) ([]datatypes.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	var products []datatypes.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return products, nil
}

// demoCatalog is the built-in catalog used when no catalog file is
// configured. It is a small but realistic slice of the CeylonMart
// inventory, enough for demos and local development.
func demoCatalog() []datatypes.Product {
	return []datatypes.Product{
		{ID: "tea-001", Name: "Ceylon Gold Black Tea 200g", Description: "High-grown Dimbula estate black tea, loose leaf.", Price: 1450, Currency: "LKR", Category: "tea", InStock: true},
		{ID: "tea-002", Name: "Jasmine Green Tea 100g", Description: "Green tea scented with jasmine blossoms.", Price: 1280, Currency: "LKR", Category: "tea", InStock: true},
		{ID: "tea-003", Name: "Silver Tips White Tea 50g", Description: "Hand-picked silver tip buds from Nuwara Eliya.", Price: 4850, Currency: "LKR", Category: "tea", InStock: false},
		{ID: "spice-001", Name: "True Cinnamon Sticks 100g", Description: "Alba grade Ceylon cinnamon quills.", Price: 980, Currency: "LKR", Category: "spices", InStock: true},
		{ID: "spice-002", Name: "Black Pepper Corns 250g", Description: "Sun-dried Matale black pepper.", Price: 1150, Currency: "LKR", Category: "spices", InStock: true},
		{ID: "craft-001", Name: "Handloom Cotton Sarong", Description: "Traditional handloom sarong, assorted colors.", Price: 3200, Currency: "LKR", Category: "crafts", InStock: true},
		{ID: "craft-002", Name: "Carved Wooden Elephant", Description: "Hand-carved mahogany elephant figurine, 15cm.", Price: 5600, Currency: "LKR", Category: "crafts", InStock: true},
		{ID: "craft-003", Name: "Reed Basket Set", Description: "Set of three woven reed storage baskets.", Price: 1850, Currency: "LKR", Category: "crafts", InStock: true},
		{ID: "food-001", Name: "Kithul Treacle 375ml", Description: "Pure kithul palm treacle from Sabaragamuwa.", Price: 1320, Currency: "LKR", Category: "food", InStock: true},
		{ID: "food-002", Name: "Jaggery Block 500g", Description: "Traditional kithul jaggery.", Price: 950, Currency: "LKR", Category: "food", InStock: true},
	}
}
