package routes

import (
	"github.com/gin-gonic/gin"

	"marketplace-service/chat"
	"marketplace-service/controllers"
	"marketplace-service/middleware"
	"marketplace-service/models"
)

// Controllers bundles every HTTP handler the service exposes.
type Controllers struct {
	Products    *controllers.ProductController
	Categories  *controllers.ResourceController[models.Category]
	Salons      *controllers.ResourceController[models.Salon]
	Vouchers    *controllers.ResourceController[models.Voucher]
	Banners     *controllers.ResourceController[models.Banner]
	Cart        *controllers.CartController
	Checkout    *controllers.CheckoutController
	Payments    *controllers.PaymentController
	Orders      *controllers.OrderController
	Withdrawals *controllers.WithdrawalController
	Images      *controllers.ImageController
	Chat        *chat.Handler
}

// crud mounts the generic contract. Reads are public; writes need a token and the
// policy decides per resource.
func crud[T any](r *gin.Engine, path string, rc *controllers.ResourceController[T], get gin.HandlerFunc, auth gin.HandlerFunc) {
	g := r.Group(path)
	g.GET("", rc.List)
	g.GET("/:id", get)

	w := g.Group("", auth)
	w.POST("", rc.Create)
	w.PATCH("/:id", rc.Update)
	w.DELETE("/:id", rc.Delete)
}

// RegisterRoutes sets up all marketplace routes.
func RegisterRoutes(r *gin.Engine, c Controllers, tokens middleware.TokenParser) {
	auth := middleware.AuthMiddleware(tokens)

	crud(r, "/products", c.Products.ResourceController, c.Products.Get, auth)
	crud(r, "/categories", c.Categories, c.Categories.Get, auth)
	crud(r, "/salons", c.Salons, c.Salons.Get, auth)
	crud(r, "/banners", c.Banners, c.Banners.Get, auth)

	// Voucher codes are not public.
	vouchers := r.Group("/vouchers", auth, middleware.RequireRoles(models.RoleAdmin))
	vouchers.GET("", c.Vouchers.List)
	vouchers.GET("/:id", c.Vouchers.Get)
	vouchers.POST("", c.Vouchers.Create)
	vouchers.PATCH("/:id", c.Vouchers.Update)
	vouchers.DELETE("/:id", c.Vouchers.Delete)

	cart := r.Group("/cart", auth)
	cart.GET("", c.Cart.GetCart)
	cart.DELETE("", c.Cart.ClearCart)
	cart.POST("/items", c.Cart.AddItem)
	cart.PUT("/items/:product_id", c.Cart.UpdateItem)
	cart.DELETE("/items/:product_id", c.Cart.RemoveItem)
	cart.POST("/voucher", c.Cart.ApplyVoucher)
	cart.DELETE("/voucher", c.Cart.RemoveVoucher)

	r.POST("/checkout", auth, c.Checkout.Checkout)

	// Gateways call these without a token; the status is always fetched from the gateway.
	payments := r.Group("/payments")
	payments.GET("/callback/:provider/:flow/:invoiceId", c.Payments.Callback)
	payments.POST("/callback/:provider/:flow/:invoiceId", c.Payments.Callback)
	payments.POST("/webhooks/:provider", c.Payments.Webhook)

	invoices := r.Group("/invoices", auth)
	invoices.GET("", c.Orders.ListInvoices)
	invoices.GET("/:invoiceId", c.Orders.GetInvoice)
	invoices.POST("/:invoiceId/confirm", c.Payments.Confirm)

	r.GET("/transactions", auth, c.Orders.ListTransactions)
	r.GET("/orders", auth, c.Orders.ListOrders)

	seller := r.Group("", auth, middleware.RequireRoles(models.RoleSeller, models.RoleSalon, models.RoleAdmin))
	seller.GET("/sales", c.Orders.ListSales)
	seller.GET("/balance", c.Orders.Balance)
	seller.POST("/images", c.Images.Upload)
	seller.DELETE("/images", c.Images.Delete)

	withdrawals := r.Group("/withdrawals", auth)
	withdrawals.POST("", c.Withdrawals.Request)
	withdrawals.GET("", c.Withdrawals.List)
	withdrawals.GET("/:id", c.Withdrawals.Get)
	admin := withdrawals.Group("", middleware.RequireRoles(models.RoleAdmin))
	admin.PATCH("/:id/approve", c.Withdrawals.Approve)
	admin.PATCH("/:id/reject", c.Withdrawals.Reject)

	if c.Chat != nil {
		r.GET("/chat/ws", auth, c.Chat.ServeWS)
	}
}
