package models

import (
	"fmt"
	"strings"
)

// Resource identifies a remote collection mirrored locally
type Resource string

const (
	ResourceOrders     Resource = "orders"
	ResourceCustomers  Resource = "customers"
	ResourceProducts   Resource = "products"
	ResourceCategories Resource = "categories"
)

// Resources lists every paginated resource in fetch order
var Resources = []Resource{ResourceOrders, ResourceCustomers, ResourceProducts, ResourceCategories}

func ParseResource(s string) (Resource, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Resources {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown resource %q", s)
}

func (r Resource) String() string {
	return string(r)
}
