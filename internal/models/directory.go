package models

// Table and Waiter are read-only directory records owned by the admin
// service; the call service only queries them.

type Table struct {
	TableID      string `json:"table_id"`
	RestaurantID string `json:"restaurant_id"`
	Label        string `json:"label"`
	Active       bool   `json:"active"`
}

type Waiter struct {
	WaiterID     string `json:"waiter_id"`
	RestaurantID string `json:"restaurant_id"`
	Name         string `json:"name"`
	Active       bool   `json:"active"`
}
