package model

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadInvoice reads an invoice fixture from a YAML file.
func LoadInvoice(path string) (*Invoice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read invoice fixture %s", path)
	}
	var inv Invoice
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, eris.Wrapf(err, "model: parse invoice fixture %s", path)
	}
	if inv.ID == "" {
		return nil, eris.Errorf("model: invoice fixture %s has no id", path)
	}
	return &inv, nil
}

// LoadPurchaseOrders reads a purchase-order fixture from a YAML file.
// The file holds a top-level list of orders.
func LoadPurchaseOrders(path string) ([]PurchaseOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read purchase orders %s", path)
	}
	var orders []PurchaseOrder
	if err := yaml.Unmarshal(data, &orders); err != nil {
		return nil, eris.Wrapf(err, "model: parse purchase orders %s", path)
	}
	return orders, nil
}

// LoadFeedback reads a human-feedback fixture from a YAML file.
func LoadFeedback(path string) (*HumanFeedback, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "model: read feedback fixture %s", path)
	}
	var fb HumanFeedback
	if err := yaml.Unmarshal(data, &fb); err != nil {
		return nil, eris.Wrapf(err, "model: parse feedback fixture %s", path)
	}
	if fb.InvoiceID == "" {
		return nil, eris.Errorf("model: feedback fixture %s has no invoice_id", path)
	}
	return &fb, nil
}
