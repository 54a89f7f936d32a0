package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ViewSet groups the six actions of a resource collection.
type ViewSet interface {
	List(w http.ResponseWriter, r *http.Request)
	Create(w http.ResponseWriter, r *http.Request)
	Retrieve(w http.ResponseWriter, r *http.Request)
	Update(w http.ResponseWriter, r *http.Request)
	PartialUpdate(w http.ResponseWriter, r *http.Request)
	Destroy(w http.ResponseWriter, r *http.Request)
}

// RegisterViewSet routes prefix and prefix/{id} to vs:
//
//	GET    prefix       List
//	POST   prefix       Create
//	GET    prefix/{id}  Retrieve
//	PUT    prefix/{id}  Update
//	PATCH  prefix/{id}  PartialUpdate
//	DELETE prefix/{id}  Destroy
//
// mws wrap every action. Trailing slashes are handled by the caller's
// router (middleware.StripSlashes).
func RegisterViewSet(r chi.Router, prefix string, vs ViewSet, mws ...func(http.Handler) http.Handler) {
	r.Route(prefix, func(r chi.Router) {
		r.Use(mws...)
		r.Get("/", vs.List)
		r.Post("/", vs.Create)
		r.Get("/{id}", vs.Retrieve)
		r.Put("/{id}", vs.Update)
		r.Patch("/{id}", vs.PartialUpdate)
		r.Delete("/{id}", vs.Destroy)
	})
}
