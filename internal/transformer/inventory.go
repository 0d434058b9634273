package transformer

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	InventoryName      = "inventory"
	inventoryProcessor = "inventory-orchestrator"
	inventoryVersion   = "1.0"
)

// Inventory normalizes stock adjustments into signed quantity changes
type Inventory struct {
	now func() time.Time
}

// NewInventory creates an inventory transformer
func NewInventory() *Inventory {
	return &Inventory{now: time.Now}
}

func (i *Inventory) Name() string { return InventoryName }

func (i *Inventory) IsValidMessage(payload string) bool {
	return isNotBlank(payload)
}

// Transform supports the ADD, REMOVE and SET operations. REMOVE yields a negative
// adjustedQuantity.
func (i *Inventory) Transform(payload string) (string, error) {
	if !i.IsValidMessage(payload) {
		return "", reject("Empty message")
	}
	if !gjson.Valid(payload) || !gjson.Parse(payload).IsObject() {
		return "", reject("Invalid inventory format")
	}

	fields := gjson.GetMany(payload, "productId", "quantity", "operation", "warehouseId")
	productID, quantity, operation, warehouseID := fields[0], fields[1], fields[2], fields[3]
	if productID.String() == "" || !quantity.Exists() || operation.String() == "" {
		return "", reject("Missing required fields")
	}
	if quantity.Type != gjson.Number || quantity.Num != float64(quantity.Int()) || quantity.Int() < 0 {
		return "", reject("Invalid quantity")
	}

	op := strings.ToUpper(operation.String())
	var adjusted int64
	switch op {
	case "ADD", "SET":
		adjusted = quantity.Int()
	case "REMOVE":
		adjusted = -quantity.Int()
	default:
		return "", reject("Invalid operation")
	}

	out, err := sjson.Set(`{"inventory_updated":true}`, "productId", productID.String())
	if err != nil {
		return "", err
	}
	out, _ = sjson.Set(out, "operation", op)
	out, _ = sjson.Set(out, "adjustedQuantity", adjusted)
	if warehouseID.Exists() {
		out, _ = sjson.Set(out, "warehouseId", warehouseID.String())
	}
	out, _ = sjson.Set(out, "status", "INVENTORY_UPDATED")
	out, _ = sjson.Set(out, "processor", inventoryProcessor)
	out, _ = sjson.Set(out, "version", inventoryVersion)
	out, _ = sjson.Set(out, "processedAt", i.now().UnixMilli())
	return out, nil
}
