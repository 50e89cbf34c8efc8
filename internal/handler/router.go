package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/agromart-gateway/internal/middleware"
	"github.com/mmeshcher/agromart-gateway/internal/model"
)

func pageHandler(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"page": page})
	}
}

// SetupRouter настраивает HTTP-маршруты и middleware шлюза агромаркета.
// Каждая группа маршрутов завёрнута в ролевой гард; отказ гарда — всегда
// редирект на страницу входа или на стартовую страницу собственной роли.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	// Якоря редиректов гарда. Страница входа открыта, стартовые страницы
	// ролей защищены своей ролью.
	r.Get("/login", pageHandler("login"))
	r.With(h.guard.RequireRoles(model.RoleFarmer)).Get("/farmer", pageHandler("farmer"))
	r.With(h.guard.RequireRoles(model.RoleDealer)).Get("/dealer", pageHandler("dealer"))
	r.With(h.guard.RequireRoles(model.RoleAdmin)).Get("/admin", pageHandler("admin"))

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", h.Register)
		api.Post("/auth/login", h.Login)
		api.Post("/auth/google", h.GoogleLogin)
		api.Post("/auth/role", h.RoleRegister)

		api.Group(func(r chi.Router) {
			r.Use(h.guard.RequireRoles())

			r.Post("/auth/logout", h.Logout)
			r.Get("/crops", h.ListCrops)

			r.Get("/notifications", h.Notifications)
			r.Get("/notifications/unread", h.UnreadNotifications)
			r.Patch("/notifications/{id}/read", h.MarkNotificationRead)

			r.Get("/toast", h.CurrentToast)
			r.Delete("/toast", h.DismissToast)
		})

		api.Group(func(r chi.Router) {
			r.Use(h.guard.RequireRoles(model.RoleFarmer))

			r.Get("/crops/my", h.MyCrops)
			r.Post("/crops", h.CreateCrop)
			r.Put("/crops/{id}", h.UpdateCrop)
			r.Delete("/crops/{id}", h.DeleteCrop)

			r.Put("/requests/{id}/status/{status}", h.UpdateRequestStatus)
			r.Put("/requests/{id}/complete", h.CompleteRequest)

			r.Get("/farmer/payments", h.FarmerPayments)
		})

		api.Group(func(r chi.Router) {
			r.Use(h.guard.RequireRoles(model.RoleDealer))

			r.Post("/requests", h.CreateRequest)
			r.Get("/dealer/requests", h.DealerRequests)

			r.Get("/dealer/cart", h.GetCart)
			r.Post("/dealer/cart", h.AddToCart)
			r.Delete("/dealer/cart", h.ClearCart)
			r.Put("/dealer/cart/items/{id}/quantity", h.UpdateItemQuantity)
			r.Put("/dealer/cart/items/{id}/price", h.UpdateItemPrice)
			r.Delete("/dealer/cart/items/{id}", h.RemoveCartItem)

			r.Post("/dealer/cart/checkout", h.Checkout)
			r.Post("/dealer/cart/items/{id}/checkout", h.CheckoutItem)

			r.Get("/dealer/payments", h.DealerPayments)
		})

		api.Group(func(r chi.Router) {
			r.Use(h.guard.RequireRoles(model.RoleAdmin))

			r.Get("/admin/crops/pending", h.PendingCrops)
			r.Post("/admin/crops/{id}/approve", h.ApproveCrop)
			r.Post("/admin/crops/{id}/reject", h.RejectCrop)

			r.Get("/admin/payments", h.AdminPayments)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
