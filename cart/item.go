// gostore-cart/cart/item.go

package cart

// StorageKey is the persisted slot holding the serialized item list.
const StorageKey = "@GoStore:products"

// Product describes something that can be put in the cart.
type Product struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url"`
	Price    float64 `json:"price"`
}

// Item is a cart line: a product and how many of it are in the cart.
// Quantity is at least 1 for every item held by a Store.
type Item struct {
	Product
	Quantity int `json:"quantity"`
}

// adjust adds delta to the quantity of every item with id and returns how many matched.
func adjust(items []Item, id string, delta int) int {
	matched := 0
	for i := range items {
		if items[i].ID == id {
			items[i].Quantity += delta
			matched++
		}
	}
	return matched
}

// dropDepleted removes every item with id once one of them has no unit left.
func dropDepleted(items []Item, id string) []Item {
	depleted := false
	for _, it := range items {
		if it.ID == id && it.Quantity <= 0 {
			depleted = true
			break
		}
	}
	if !depleted {
		return items
	}
	out := items[:0]
	for _, it := range items {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Total returns the number of units and the summed price of items.
func Total(items []Item) (units int, amount float64) {
	for _, it := range items {
		units += it.Quantity
		amount += it.Price * float64(it.Quantity)
	}
	return units, amount
}
