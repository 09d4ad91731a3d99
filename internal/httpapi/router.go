package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/uma-arai/sbcntr-pethotel/internal/bus"
	"github.com/uma-arai/sbcntr-pethotel/internal/model"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/booking"
	"github.com/uma-arai/sbcntr-pethotel/internal/service/today"
)

// Lifecycle は管理者のステータス操作です
type Lifecycle interface {
	ChangeStatus(ctx context.Context, id string, status model.Status) (*model.DisplayReservation, error)
	Confirm(ctx context.Context, id string) (*model.DisplayReservation, error)
	Complete(ctx context.Context, id string) (*model.DisplayReservation, error)
	Cancel(ctx context.Context, id string) (*model.DisplayReservation, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
}

// Booking は予約の照会と作成です
type Booking interface {
	Submit(ctx context.Context, req booking.SubmitRequest) (*model.DisplayReservation, error)
	Update(ctx context.Context, id string, record model.DisplayReservation) (*model.DisplayReservation, error)
	List(ctx context.Context) ([]model.DisplayReservation, error)
	ListByDate(ctx context.Context, date string) ([]model.DisplayReservation, error)
	Calendar(ctx context.Context, service model.Service) ([]model.DisplayReservation, error)
}

// TodayView は当日ビューです
type TodayView interface {
	SetEnabled(ctx context.Context, enabled bool) error
	Today() string
	Groups() []today.Group
}

// Notifications は SMS 送信履歴の照会です
type Notifications interface {
	GetByReservationID(ctx context.Context, reservationID string) ([]model.NotificationRecord, error)
}

// Signals は変更シグナルの購読です
type Signals interface {
	Subscribe(listener func()) *bus.Subscription
}

// Options はルーターの設定です
type Options struct {
	AdminAPIKey string
	CORSOrigins []string
	// KeepAlive は SSE の ping 間隔です
	KeepAlive time.Duration
}

// Handler は HTTP ハンドラーです
type Handler struct {
	lifecycle Lifecycle
	booking   Booking
	today     TodayView
	signals       Signals
	notifications Notifications
	keepAlive     time.Duration
}

// NewRouter はルーティングを設定した gin.Engine を返します
func NewRouter(lifecycle Lifecycle, booking Booking, todayView TodayView, signals Signals, notifications Notifications, opts Options) *gin.Engine {
	h := &Handler{
		lifecycle:     lifecycle,
		booking:       booking,
		today:         todayView,
		signals:       signals,
		notifications: notifications,
		keepAlive:     opts.KeepAlive,
	}
	if h.keepAlive <= 0 {
		h.keepAlive = 30 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	allowCredentials := true
	for _, origin := range origins {
		if origin == "*" {
			allowCredentials = false
			break
		}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: allowCredentials,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/reservations", h.listReservations)
		api.POST("/reservations", h.submitReservation)
	}

	admin := api.Group("/admin", AdminAuth(opts.AdminAPIKey))
	{
		reservations := admin.Group("/reservations")
		{
			// /:id より先に登録する
			reservations.POST("/bulk-delete", h.bulkDelete)

			reservations.PUT("/:id", h.updateReservation)
			reservations.PATCH("/:id/status", h.changeStatus)
			reservations.POST("/:id/confirm", h.transition(h.lifecycle.Confirm))
			reservations.POST("/:id/complete", h.transition(h.lifecycle.Complete))
			reservations.POST("/:id/cancel", h.transition(h.lifecycle.Cancel))
			reservations.DELETE("/:id", h.deleteReservation)
			reservations.GET("/:id/notifications", h.listNotifications)
		}
		admin.GET("/calendar", h.calendar)
		admin.GET("/today", h.todayView)
		admin.GET("/events", h.events)
	}

	return r
}
