package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Item maps to the inventory_item table. Stock is uniquely keyed by
// (pharmacy_id, sku), not by id alone; deletion is a soft marker so the row
// keeps its version history.
type Item struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PharmacyID   uuid.UUID `db:"pharmacy_id" json:"pharmacy_id"`
	SKU          string    `db:"sku" json:"sku"`
	Name         string    `db:"name" json:"name"`
	Quantity     int       `db:"quantity" json:"quantity"`
	Unit         string    `db:"unit" json:"unit"`
	ReorderLevel int       `db:"reorder_level" json:"reorder_level"`
	Deleted      bool      `db:"deleted" json:"deleted"`
	Version      int64     `db:"version" json:"version"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Payload is the entity-shaped data of a sync upsert.
type Payload struct {
	PharmacyID   string `json:"pharmacy_id" validate:"required,uuid"`
	SKU          string `json:"sku" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Quantity     int    `json:"quantity" validate:"gte=0"`
	Unit         string `json:"unit" validate:"required"`
	ReorderLevel int    `json:"reorder_level" validate:"gte=0"`
}

// Wire is the projection returned to clients. Inventory carries no protected
// fields, so the projection is a plain reshaping.
type Wire struct {
	ID           string    `json:"id"`
	PharmacyID   string    `json:"pharmacy_id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Quantity     int       `json:"quantity"`
	Unit         string    `json:"unit"`
	ReorderLevel int       `json:"reorder_level"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}
