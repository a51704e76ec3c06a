package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"p9e.in/gridops/handlers"
	"p9e.in/gridops/middleware"
	"p9e.in/gridops/models"
)

// RegisterRoutes sets up all application routes
func RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// =====================================================
	// Public Routes (no authentication)
	// =====================================================
	r.HandleFunc("/register", handlers.Register).Methods("POST")
	r.HandleFunc("/login", handlers.Login).Methods("POST")
	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir("./uploads"))),
	)

	// =====================================================
	// Protected API Routes (require JWT authentication)
	// =====================================================
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.JWTMiddleware)

	api.HandleFunc("/profile", handlers.Profile).Methods("GET")
	api.HandleFunc("/files", handlers.UploadImageHandler).Methods("POST")

	registerWorkOrderRoutes(api)
	registerGridWorkerRoutes(api)
	registerCaptainRoutes(api)

	return r
}

func registerWorkOrderRoutes(api *mux.Router) {
	h := handlers.NewWorkOrderHandler()
	supervisory := []string{models.RoleAreaCaptain, models.RoleSuperAdmin}

	api.HandleFunc("/workorders", h.CreateWorkOrder).Methods("POST")
	api.HandleFunc("/workorders/mine", h.GetMyWorkOrders).Methods("GET")
	api.Handle("/workorders",
		middleware.RequireRole(supervisory, http.HandlerFunc(h.GetWorkOrders))).Methods("GET")
	api.HandleFunc("/workorders/{id}", h.GetWorkOrder).Methods("GET")
	api.HandleFunc("/workorders/{id}/logs", h.GetWorkOrderLogs).Methods("GET")
	api.HandleFunc("/workorders/{id}/feedback", h.GetWorkOrderFeedback).Methods("GET")
	api.Handle("/workorders/{id}/status",
		middleware.RequireRole(supervisory, http.HandlerFunc(h.UpdateWorkOrderStatus))).Methods("PUT")
}

func registerGridWorkerRoutes(api *mux.Router) {
	h := handlers.NewGridWorkerHandler()
	workerRoles := []string{models.RoleGridWorker, models.RoleAreaCaptain, models.RoleSuperAdmin}

	gw := api.PathPrefix("/gridworker").Subrouter()
	gw.Handle("/orders",
		middleware.RequireRole(workerRoles, http.HandlerFunc(h.GetOrders))).Methods("GET")
	gw.Handle("/claim",
		middleware.RequireRole(workerRoles, http.HandlerFunc(h.ClaimOrder))).Methods("POST")
	gw.Handle("/feedback",
		middleware.RequireRole(workerRoles, http.HandlerFunc(h.SubmitFeedback))).Methods("POST")
	gw.Handle("/report",
		middleware.RequireRole(workerRoles, http.HandlerFunc(h.ReportToCaptain))).Methods("POST")
}

func registerCaptainRoutes(api *mux.Router) {
	h := handlers.NewCaptainHandler()
	captainRoles := []string{models.RoleAreaCaptain, models.RoleSuperAdmin}

	cap := api.PathPrefix("/captain").Subrouter()
	cap.Handle("/workorders",
		middleware.RequireRole(captainRoles, http.HandlerFunc(h.GetWorkOrders))).Methods("GET")
	cap.Handle("/workorders/export",
		middleware.RequireRole(captainRoles, http.HandlerFunc(h.ExportWorkOrders))).Methods("GET")
	cap.Handle("/reassign",
		middleware.RequireRole(captainRoles, http.HandlerFunc(h.Reassign))).Methods("POST")
	cap.Handle("/grid-workers",
		middleware.RequireRole(captainRoles, http.HandlerFunc(h.GetGridWorkers))).Methods("GET")
}
