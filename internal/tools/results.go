package tools

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/domain/commerce"
	"github.com/xenking/kart-assistant/internal/domain/order"
	"github.com/xenking/kart-assistant/internal/domain/weather"
)

// money writes d as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func encodeProduct(e *jx.Encoder, p catalog.Product) {
	e.ObjStart()
	e.FieldStart("product_id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("price")
	money(e, p.Price)
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.ObjEnd()
}

func encodeProducts(e *jx.Encoder, products []catalog.Product) {
	e.ArrStart()
	for _, p := range products {
		encodeProduct(e, p)
	}
	e.ArrEnd()
}

type productList []catalog.Product

func (r productList) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("products")
	encodeProducts(e, r)
	e.ObjEnd()
}

type productDetails catalog.Product

func (r productDetails) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("product")
	encodeProduct(e, catalog.Product(r))
	e.ObjEnd()
}

type searchResult struct {
	query    string
	products []catalog.Product
}

func (r searchResult) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("query")
	e.Str(r.query)
	e.FieldStart("products")
	encodeProducts(e, r.products)
	e.ObjEnd()
}

type cartAdded commerce.AddToCartResult

func (r cartAdded) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("cart_id")
	e.Int64(r.CartID)
	e.FieldStart("product_id")
	e.Int64(r.Product.ID)
	e.FieldStart("name")
	e.Str(r.Product.Name)
	e.FieldStart("added")
	e.Int(r.Added)
	e.FieldStart("quantity")
	e.Int(r.Quantity)
	e.FieldStart("price")
	money(e, r.Product.Price)
	e.ObjEnd()
}

type cartView commerce.CartView

func (r cartView) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("empty")
	e.Bool(len(r.Lines) == 0)
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range r.Lines {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(l.ProductID)
		e.FieldStart("name")
		e.Str(l.Name)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("price")
		money(e, l.Price)
		e.FieldStart("subtotal")
		money(e, l.Subtotal())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("total")
	money(e, r.Total)
	e.ObjEnd()
}

// orderResult renders both checkout receipts and status lookups.
type orderResult order.Order

func (r orderResult) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("order_id")
	e.Int64(r.ID)
	e.FieldStart("status")
	e.Str(string(r.Status))
	e.FieldStart("created_at")
	e.Str(r.CreatedAt.UTC().Format(time.RFC3339))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range r.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		money(e, it.Price)
		e.FieldStart("subtotal")
		money(e, it.Subtotal())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("total")
	money(e, r.Total)
	e.ObjEnd()
}

type weatherReport weather.Report

func (r weatherReport) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("location")
	e.Str(r.Location)
	e.FieldStart("temperature")
	e.Str(r.Temperature)
	e.FieldStart("condition")
	e.Str(r.Condition)
	e.FieldStart("humidity")
	e.Str(r.Humidity)
	e.FieldStart("wind")
	e.Str(r.Wind)
	e.ObjEnd()
}
