package api

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the v1 API on router
func RegisterRoutes(router *mux.Router, alerts *AlertHandler, notifications *NotificationHandler, engine *EngineHandler) {
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(mux.MiddlewareFunc(MetricsMiddleware()))

	// Alert rules. /alerts/fired is registered before /alerts/{id}.
	v1.HandleFunc("/alerts", alerts.ListAlerts).Methods("GET")
	v1.HandleFunc("/alerts", alerts.CreateAlert).Methods("POST")
	v1.HandleFunc("/alerts/fired", alerts.DeleteFiredAlerts).Methods("DELETE")
	v1.HandleFunc("/alerts/{id}", alerts.GetAlert).Methods("GET")
	v1.HandleFunc("/alerts/{id}", alerts.UpdateAlert).Methods("PUT")
	v1.HandleFunc("/alerts/{id}", alerts.DeleteAlert).Methods("DELETE")
	v1.HandleFunc("/alerts/{id}/toggle", alerts.ToggleAlert).Methods("POST")

	// Notification center
	v1.HandleFunc("/notifications", notifications.ListNotifications).Methods("GET")
	v1.HandleFunc("/notifications", notifications.ClearNotifications).Methods("DELETE")
	v1.HandleFunc("/notifications/read-all", notifications.MarkAllAsRead).Methods("POST")
	v1.HandleFunc("/notifications/{id}/read", notifications.MarkAsRead).Methods("POST")
	v1.HandleFunc("/notifications/{id}", notifications.DeleteNotification).Methods("DELETE")

	// Engine control
	v1.HandleFunc("/engine", engine.GetEngine).Methods("GET")
	v1.HandleFunc("/engine", engine.UpdateEngine).Methods("PUT")
	v1.HandleFunc("/engine/check", engine.CheckNow).Methods("POST")
	v1.HandleFunc("/engine/stats", engine.GetStats).Methods("GET")
}
