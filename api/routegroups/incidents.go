package routegroups

import (
	"icsforms/api/handlers"

	"github.com/go-chi/chi/v5"
)

func RegisterIncidents(apiRouter chi.Router, g Guards, incidents *handlers.IncidentsHandler) {
	apiRouter.Route("/incidents", func(incidentsRouter chi.Router) {
		incidentsRouter.MethodFunc("GET", "/", g.SessionPerm("incidents.view", incidents.List))
		incidentsRouter.MethodFunc("POST", "/", g.SessionPerm("incidents.manage", incidents.Create))
		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("incidents.view", incidents.Get))
		incidentsRouter.MethodFunc("PUT", "/{id:[0-9]+}", g.SessionPerm("incidents.manage", incidents.Update))
		incidentsRouter.MethodFunc("DELETE", "/{id:[0-9]+}", g.SessionPerm("incidents.manage", incidents.Delete))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/restore", g.SessionPerm("incidents.manage", incidents.Restore))

		incidentsRouter.MethodFunc("GET", "/{id:[0-9]+}/periods", g.SessionPerm("incidents.view", incidents.ListPeriods))
		incidentsRouter.MethodFunc("POST", "/{id:[0-9]+}/periods", g.SessionPerm("incidents.manage", incidents.CreatePeriod))
		incidentsRouter.MethodFunc("PUT", "/{id:[0-9]+}/periods/{period_id:[0-9]+}", g.SessionPerm("incidents.manage", incidents.UpdatePeriod))
		incidentsRouter.MethodFunc("DELETE", "/{id:[0-9]+}/periods/{period_id:[0-9]+}", g.SessionPerm("incidents.manage", incidents.DeletePeriod))
	})
}
