package tools

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/domain/commerce"
	"github.com/xenking/kart-assistant/internal/domain/order"
	"github.com/xenking/kart-assistant/internal/domain/weather"
)

// Commerce is the part of commerce.Service the tools call.
type Commerce interface {
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	ProductDetails(ctx context.Context, productID int64) (*catalog.Product, error)
	SearchProducts(ctx context.Context, query string) ([]catalog.Product, error)
	AddToCart(ctx context.Context, userID, productID int64, quantity int) (*commerce.AddToCartResult, error)
	ViewCart(ctx context.Context, userID int64) (*commerce.CartView, error)
	Checkout(ctx context.Context, userID int64) (*order.Order, error)
	GetOrderStatus(ctx context.Context, orderID int64) (*order.Order, error)
}

var _ Commerce = (*commerce.Service)(nil)

// UI components rendered for tool results.
const (
	ComponentProducts = "product_list"
	ComponentCart     = "cart"
	ComponentOrder    = "order_receipt"
	ComponentWeather  = "weather"
)

// NewShopRegistry registers the shopping tools backed by shop and the
// weather tool backed by wx.
func NewShopRegistry(shop Commerce, wx weather.Provider) (*Registry, error) {
	return NewRegistry(
		Tool{
			Spec: Spec{
				Kind:        KindListProducts,
				Description: "List all products in the catalog with their id, name, price and stock.",
				Component:   ComponentProducts,
			},
			Handler: func(ctx context.Context, _ Invocation) (Result, error) {
				products, err := shop.ListProducts(ctx)
				if err != nil {
					return nil, err
				}
				return productList(products), nil
			},
		},
		Tool{
			Spec: Spec{
				Kind:        KindProductDetails,
				Description: "Get the full details of one product.",
				Params: []Param{
					{Name: "product_id", Type: TypeInteger, Description: "ID of the product.", Required: true},
				},
			},
			Handler: func(ctx context.Context, inv Invocation) (Result, error) {
				p, err := shop.ProductDetails(ctx, inv.Args.Int("product_id"))
				if err != nil {
					return nil, err
				}
				return productDetails(*p), nil
			},
		},
		Tool{
			Spec: Spec{
				Kind:        KindSearchProducts,
				Description: "Search products whose name contains the query, ignoring case.",
				Params: []Param{
					{Name: "query", Type: TypeString, Description: "Part of a product name.", Required: true},
				},
			},
			Handler: func(ctx context.Context, inv Invocation) (Result, error) {
				q := inv.Args.Str("query")
				products, err := shop.SearchProducts(ctx, q)
				if err != nil {
					return nil, err
				}
				return searchResult{query: q, products: products}, nil
			},
		},
		Tool{
			Spec: Spec{
				Kind:        KindAddToCart,
				Description: "Add a quantity of a product to the user's cart. Quantities of a product already in the cart are summed.",
				Params: []Param{
					{Name: "product_id", Type: TypeInteger, Description: "ID of the product to add.", Required: true},
					{Name: "quantity", Type: TypeInteger, Description: "Number of units to add, at least 1.", Required: true},
				},
				Component: ComponentCart,
			},
			Handler: func(ctx context.Context, inv Invocation) (Result, error) {
				res, err := shop.AddToCart(ctx, inv.UserID, inv.Args.Int("product_id"), int(inv.Args.Int("quantity")))
				if err != nil {
					return nil, err
				}
				return cartAdded(*res), nil
			},
		},
		Tool{
			Spec: Spec{
				Kind:        KindViewCart,
				Description: "Show the items in the user's cart with subtotals and the total.",
				Component:   ComponentCart,
			},
			Handler: func(ctx context.Context, inv Invocation) (Result, error) {
				view, err := shop.ViewCart(ctx, inv.UserID)
				if err != nil {
					return nil, err
				}
				return cartView(*view), nil
			},
		},
		Tool{
			Spec: Spec{
				Kind:        KindCheckout,
				Description: "Place an order for everything in the user's cart and empty the cart.",
				Component:   ComponentOrder,
			},
			Handler: func(ctx context.Context, inv Invocation) (Result, error) {
				o, err := shop.Checkout(ctx, inv.UserID)
				if err != nil {
					return nil, err
				}
				return orderResult(*o), nil
			},
		},
		Tool{
			Spec: Spec{
				Kind:        KindGetOrderStatus,
				Description: "Look up the status, items and total of an order.",
				Params: []Param{
					{Name: "order_id", Type: TypeInteger, Description: "ID of the order.", Required: true},
				},
				Component: ComponentOrder,
			},
			Handler: func(ctx context.Context, inv Invocation) (Result, error) {
				o, err := shop.GetOrderStatus(ctx, inv.Args.Int("order_id"))
				if err != nil {
					return nil, err
				}
				return orderResult(*o), nil
			},
		},
		Tool{
			Spec: Spec{
				Kind:        KindGetWeather,
				Description: "Get the current weather for a location.",
				Params: []Param{
					{Name: "location", Type: TypeString, Description: "City or place name.", Required: true},
				},
				Component: ComponentWeather,
			},
			Handler: func(ctx context.Context, inv Invocation) (Result, error) {
				report, err := wx.Current(ctx, inv.Args.Str("location"))
				if errors.Is(err, weather.ErrEmptyLocation) {
					return nil, &ArgumentError{Param: "location", Reason: "must not be empty"}
				}
				if err != nil {
					return nil, err
				}
				return weatherReport(report), nil
			},
		},
	)
}
