package router

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/route"

	"ShuttleSignup/internal/handler"
	"ShuttleSignup/internal/middleware"
)

type Options struct {
	SessionSecret string
	CSRFSecret    string
	CSRFEnabled   bool
	SecureCookies bool
	IsProduction  bool
	// 占座、换乘接口的限流，nil 表示不限流
	ReserveLimiter app.HandlerFunc
}

func Register(r *route.Engine, opts Options) {
	r.Use(middleware.RecoverMiddleware(middleware.NewRecoverConfig(opts.IsProduction)))
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.OpenTelemetryMiddleware())

	v1 := r.Group("/v1")

	reserveLimit := []app.HandlerFunc{}
	if opts.ReserveLimiter != nil {
		reserveLimit = append(reserveLimit, opts.ReserveLimiter)
	}

	// 上车点与名额
	v1.GET("/events/:event_id/pickup-locations", handler.ListPickupLocations)
	locations := v1.Group("/pickup-locations")
	{
		locations.GET("/:id", handler.GetPickupLocation)
		locations.POST("/batch", handler.BatchPickupLocations)
		locations.POST("/transfer", append(reserveLimit, handler.TransferSeat)...)
		locations.POST("/:id/reservations", append(reserveLimit, handler.ReserveSeat)...)
		locations.DELETE("/:id/reservations/:participant_ref", handler.ReleaseSeat)
	}

	// 报名向导
	registration := v1.Group("/registration")
	registration.Use(middleware.SessionMiddleware(opts.SessionSecret, opts.SecureCookies))
	if opts.CSRFEnabled {
		registration.Use(middleware.CSRFMiddleware(opts.CSRFSecret), middleware.ExposeCSRFToken())
	}
	registration.Use(middleware.WizardSessionMiddleware())
	{
		registration.GET("", handler.GetRegistration)
		registration.DELETE("", handler.ResetRegistration)
		registration.POST("/steps/:step/goto", handler.GoToStep)
		registration.POST("/next", handler.NextStep)
		registration.POST("/previous", handler.PreviousStep)
		registration.PUT("/role", handler.SetRole)
		registration.PUT("/event", handler.SetEvent)
		registration.PUT("/personal-info", handler.SetPersonalInfo)
		registration.GET("/transport/options", handler.GetTransportOptions)
		registration.PUT("/transport/selection", handler.SelectTransport)
		registration.POST("/transport/confirm", append(reserveLimit, handler.ConfirmTransport)...)
		registration.POST("/submit", handler.SubmitRegistration)
	}
}
