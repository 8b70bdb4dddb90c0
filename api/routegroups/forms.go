package routegroups

import (
	"icsforms/api/handlers"

	"github.com/go-chi/chi/v5"
)

func RegisterForms(apiRouter chi.Router, g Guards, forms *handlers.FormsHandler, attachments *handlers.AttachmentsHandler) {
	apiRouter.Route("/forms", func(formsRouter chi.Router) {
		formsRouter.MethodFunc("GET", "/", g.SessionPerm("forms.view", forms.List))
		formsRouter.MethodFunc("POST", "/", g.SessionPerm("forms.manage", forms.Create))
		formsRouter.MethodFunc("GET", "/uuid/{uuid}", g.SessionPerm("forms.view", forms.GetByUUID))
		formsRouter.MethodFunc("GET", "/{id:[0-9]+}", g.SessionPerm("forms.view", forms.Get))
		formsRouter.MethodFunc("PUT", "/{id:[0-9]+}", g.SessionPerm("forms.manage", forms.Update))
		formsRouter.MethodFunc("DELETE", "/{id:[0-9]+}", g.SessionPerm("forms.manage", forms.Delete))
		formsRouter.MethodFunc("POST", "/{id:[0-9]+}/restore", g.SessionPerm("forms.manage", forms.Restore))

		formsRouter.MethodFunc("POST", "/{id:[0-9]+}/approve", g.SessionPerm("forms.approve", forms.Approve))
		formsRouter.MethodFunc("POST", "/{id:[0-9]+}/transmit", g.SessionPerm("forms.manage", forms.Transmit))
		formsRouter.MethodFunc("POST", "/{id:[0-9]+}/receive", g.SessionPerm("forms.manage", forms.Receive))
		formsRouter.MethodFunc("POST", "/{id:[0-9]+}/reply", g.SessionPerm("forms.manage", forms.Reply))
		formsRouter.MethodFunc("POST", "/{id:[0-9]+}/return", g.SessionPerm("forms.manage", forms.Return))
		formsRouter.MethodFunc("POST", "/{id:[0-9]+}/archive", g.SessionPerm("forms.manage", forms.Archive))

		formsRouter.MethodFunc("GET", "/{id:[0-9]+}/versions", g.SessionPerm("forms.view", forms.ListVersions))
		formsRouter.MethodFunc("GET", "/{id:[0-9]+}/versions/{ver:[0-9]+}", g.SessionPerm("forms.view", forms.GetVersion))

		formsRouter.MethodFunc("GET", "/{id:[0-9]+}/attachments", g.SessionPerm("forms.view", attachments.List))
		formsRouter.MethodFunc("POST", "/{id:[0-9]+}/attachments", g.SessionPerm("forms.manage", attachments.Upload))
		formsRouter.MethodFunc("GET", "/{id:[0-9]+}/attachments/{att_id:[0-9]+}", g.SessionPerm("forms.view", attachments.Download))
		formsRouter.MethodFunc("DELETE", "/{id:[0-9]+}/attachments/{att_id:[0-9]+}", g.SessionPerm("forms.manage", attachments.Delete))
	})
}
