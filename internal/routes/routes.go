package routes

import (
	"materials-backend/internal/handlers"
	"materials-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	JWTSecret   string
	RateLimiter *middleware.IPRateLimiter
	Gatherer    prometheus.Gatherer
}

func SetupRoutes(r *gin.Engine, h *handlers.Handler, opts Options) {
	r.Use(middleware.CORSMiddleware())

	r.GET("/ping", h.Ping)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	// Provider callbacks: authenticated by signature, never rate limited
	r.POST("/webhooks/:provider", h.HandleWebhook)

	// Status streams are keyed by an unguessable payment reference
	r.GET("/payment-status/:reference", h.StreamPaymentStatus)
	r.GET("/payment-status/:reference/ws", h.PaymentStatusSocket)

	api := r.Group("/api/v1")
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Middleware())
	}

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(opts.JWTSecret))
	{
		protected.GET("/profile", h.GetUserProfile)
		protected.GET("/library", h.GetMyLibrary)

		// Purchases
		protected.POST("/checkout", h.CreateCheckout)
		protected.POST("/payments/:reference/verify", h.VerifyPayment)
		protected.GET("/orders", h.GetMyOrders)
		protected.GET("/orders/:reference", h.GetOrderDetail)

		// Wallet
		protected.GET("/wallet", h.GetMyWallet)
		protected.POST("/wallet/withdrawals", h.RequestWithdrawal)
		protected.GET("/wallet/withdrawals", h.GetMyWithdrawals)
		protected.GET("/banks", h.GetBanks)
		protected.GET("/banks/resolve", h.ResolveAccount)

		// Finance
		admin := protected.Group("/admin")
		admin.Use(middleware.FinanceOnly())
		{
			admin.GET("/withdrawals", h.ListWithdrawals)
			admin.POST("/withdrawals/:id/approve", h.ApproveWithdrawal)
			admin.POST("/withdrawals/:id/reject", h.RejectWithdrawal)
			admin.POST("/withdrawals/:id/pay", h.PayWithdrawal)
		}
	}
}
