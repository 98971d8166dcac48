package v1

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/Xunop/celestial/internal/canvas"
	"github.com/Xunop/celestial/internal/collage"
	"github.com/Xunop/celestial/internal/export"
	"github.com/Xunop/celestial/internal/library"
	"github.com/Xunop/celestial/internal/pdf"
	"github.com/Xunop/celestial/internal/remote"
	"github.com/Xunop/celestial/internal/resolver"
)

// Deps are the services the API is built on.
type Deps struct {
	Library  *library.Library
	Resolver *resolver.Resolver
	Loader   *pdf.Loader
	Collages *collage.Store
	Exporter *export.Exporter
	Remote   *remote.Session
	Auth     *Authenticator

	// MaxUploadSize is in MiB.
	MaxUploadSize int64
	AutosaveDelay time.Duration
	LongPress     time.Duration
}

type Handler struct {
	library  *library.Library
	pages    *resolver.Resolver
	loader   *pdf.Loader
	collages *collage.Store
	exporter *export.Exporter
	remote   *remote.Session
	auth     *Authenticator

	maxUploadSize int64
	studio        canvas.Options
	upgrader      websocket.Upgrader
}

// NewHandler is a constructor for the v1.Handler
func NewHandler(d Deps) *Handler {
	if d.MaxUploadSize <= 0 {
		d.MaxUploadSize = 100
	}
	if d.Auth == nil {
		d.Auth = NewAuthenticator("", "")
	}
	return &Handler{
		library:       d.Library,
		pages:         d.Resolver,
		loader:        d.Loader,
		collages:      d.Collages,
		exporter:      d.Exporter,
		remote:        d.Remote,
		auth:          d.Auth,
		maxUploadSize: d.MaxUploadSize,
		studio:        canvas.Options{AutosaveDelay: d.AutosaveDelay, LongPress: d.LongPress},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func Server(router *mux.Router, handler *Handler) {
	sr := router.PathPrefix("/api/v1").Subrouter()
	sr.Use(HandleCORS)
	sr.Use(handler.auth.AuthenticationInterceptor)
	sr.Methods(http.MethodOptions)

	opdsRouter := router.PathPrefix("/opds").Subrouter()
	opdsRouter.HandleFunc("", handler.opdsFeed).Methods(http.MethodGet).Name("opdsFeed")

	sr.HandleFunc("/signin", handler.signIn).Methods(http.MethodPost).Name("signIn")

	sr.HandleFunc("/books", handler.listBooks).Methods(http.MethodGet).Name("listBooks")
	sr.HandleFunc("/books", handler.createTextBook).Methods(http.MethodPost).Name("createTextBook")
	sr.HandleFunc("/books/pdf", handler.createPDFBook).Methods(http.MethodPost).Name("createPDFBook")
	sr.HandleFunc("/books/{id}", handler.getBook).Methods(http.MethodGet).Name("getBook")
	sr.HandleFunc("/books/{id}", handler.deleteBook).Methods(http.MethodDelete).Name("deleteBook")
	sr.HandleFunc("/books/{id}/active", handler.setActive).Methods(http.MethodPost).Name("setActive")
	sr.HandleFunc("/active", handler.getActive).Methods(http.MethodGet).Name("getActive")
	sr.HandleFunc("/books/{id}/chapters/{chapterID}/unlock", handler.unlockChapter).Methods(http.MethodPost).Name("unlockChapter")

	sr.HandleFunc("/books/{id}/pages/{page:[0-9]+}", handler.getPage).Methods(http.MethodGet).Name("getPage")
	sr.HandleFunc("/books/{id}/cover", handler.getCover).Methods(http.MethodGet).Name("getCover")
	sr.HandleFunc("/books/{id}/export.epub", handler.exportEPUB).Methods(http.MethodGet).Name("exportEPUB")

	sr.HandleFunc("/books/{id}/chapters/{chapterID}/collage", handler.getCollage).Methods(http.MethodGet).Name("getCollage")
	sr.HandleFunc("/books/{id}/chapters/{chapterID}/collage", handler.putCollage).Methods(http.MethodPut).Name("putCollage")
	sr.HandleFunc("/books/{id}/chapters/{chapterID}/collage", handler.deleteCollage).Methods(http.MethodDelete).Name("deleteCollage")

	sr.HandleFunc("/events", handler.collageEvents).Methods(http.MethodGet).Name("collageEvents")
	sr.HandleFunc("/studio", handler.studioSocket).Methods(http.MethodGet).Name("studio")

	sr.HandleFunc("/remote", handler.remoteStatus).Methods(http.MethodGet).Name("remoteStatus")
	sr.HandleFunc("/remote/connect", handler.remoteConnect).Methods(http.MethodPost).Name("remoteConnect")
	sr.HandleFunc("/remote/disconnect", handler.remoteDisconnect).Methods(http.MethodPost).Name("remoteDisconnect")
}

func HandleCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Max-Age", "7200")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
